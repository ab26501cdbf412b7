package main

import (
	"github.com/manifest-network/seqd/cmd/seqd"
)

func main() {
	seqd.Execute()
}
