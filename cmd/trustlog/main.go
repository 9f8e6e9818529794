// trustlog — tamper-evident audit log.
// Every entry is hash-chained to its predecessor; any after-the-fact
// modification, deletion or reordering is detectable by verification.
package main

import "github.com/ppiankov/trustlog/internal/cli"

func main() {
	cli.Execute()
}
