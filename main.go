// Command crawld runs the crawl execution core, the remote fetch worker,
// and the fleet version check.
package main

import "github.com/crawlkit/crawld/cmd"

func main() {
	cmd.Execute()
}
