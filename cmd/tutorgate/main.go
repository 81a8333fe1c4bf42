// Command tutorgate asks the tutor questions from the terminal and inspects
// student quotas.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ineyio/tutorgate"
)

// exitTempFail is EX_TEMPFAIL from sysexits.h.
const exitTempFail = 75

func main() {
	if err := rootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tutorgate:", err)
		if tutorgate.RemedyFor(err) == tutorgate.RemedyWait {
			os.Exit(exitTempFail)
		}
		os.Exit(1)
	}
}
