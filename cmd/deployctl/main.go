// Command deployctl drives a fleetwar coordinator from the command line.
//
//	deployctl deploy build/shop##42.war build/blog.war --vhost localhost
//	deployctl undeploy /shop##41
//	deployctl status
//	deployctl history --limit 20
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
