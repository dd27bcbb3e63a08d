// Command inbox reads and writes the guest/host inbox from a terminal against a local SQLite store.
package main

import "github.com/medstay/inbox/internal/inboxcli"

func main() {
	inboxcli.Main()
}
