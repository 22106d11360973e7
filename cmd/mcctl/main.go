// mcctl queries and controls a game server through mcserver.
package main

import "github.com/lightforgemedia/go-mcremote/internal/cli"

func main() {
	cli.Execute()
}
