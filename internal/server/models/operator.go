package models

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/natskeeper/internal/common"
)

// Operator is the singleton settings record of the credential store owner.
// The *ID fields cache identifiers decoded from store tokens.
type Operator struct {
	Name           string
	Host           string
	Port           int
	StoreDirectory string
	Initialized    bool

	OperatorID        string
	SystemAccountID   string
	SystemUserID      string
	OperatorAccountID string
	OperatorUserID    string
}

// AccountServerURL is the broker address accounts are resolved from.
func (o *Operator) AccountServerURL() string {
	return fmt.Sprintf("nats://%s:%d", o.Host, o.Port)
}

// Validate checks the settings needed before the store can be initialized.
func (o *Operator) Validate() error {
	if o.Host == "" {
		return common.Validationf("host cannot be empty")
	}
	if o.Port == 0 {
		return common.Validationf("port cannot be 0")
	}

	if o.StoreDirectory == "" {
		return common.Validationf("store directory must be set")
	}
	if _, err := os.Stat(o.StoreDirectory); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return common.Validationf("store directory %s does not exist", o.StoreDirectory)
		}
		return err
	}

	if o.Name == "" {
		return common.Validationf("operator name cannot be empty")
	}
	if strings.ContainsAny(o.Name, " \t\r\n") {
		return common.Validationf("operator name cannot contain spaces")
	}
	return nil
}
