package main

import (
	"context"
	"fmt"
	"os"

	"github.com/GPTx-global/crank/oracle/log"
)

func main() {
	log.InitLogger()
	defer log.Sync()

	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Sync()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
