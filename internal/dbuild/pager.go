package dbuild

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// RunPager shows content through less when stdout is a terminal, and falls
// back to a plain print when it is not or the pager cannot run.
func RunPager(content string) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Print(content)
		return
	}
	cmd := exec.Command("less", "-R", "-F")
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Print(content)
	}
}
