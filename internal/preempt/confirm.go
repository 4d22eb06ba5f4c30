package preempt

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const confirmationYes = "yes"

// Confirmer asks the operator to approve a preemption
type Confirmer interface {
	// Confirm prints prompt and blocks for a yes/no answer
	Confirm(prompt string) (bool, error)
}

// StdinConfirmer reads the answer from standard input. Anything other than
// "yes" declines.
type StdinConfirmer struct{}

// Confirm prints prompt and blocks for operator input
func (StdinConfirmer) Confirm(prompt string) (bool, error) {
	fmt.Print(prompt)

	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}

	return strings.ToLower(response) == confirmationYes, nil
}
