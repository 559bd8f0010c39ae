// Command courier runs the notification delivery engine.
//
//	courier serve     # dispatcher pools, retention sweeper and admin API
//	courier migrate   # apply PostgreSQL migrations
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
