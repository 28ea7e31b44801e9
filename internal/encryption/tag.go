package encryption

import (
	"fmt"

	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/model"
)

// SchemaHasEncryptedFields reports whether any attribute of s is encrypted.
func SchemaHasEncryptedFields(s *model.Schema) bool {
	if s == nil {
		return false
	}
	for _, a := range s.Attributes() {
		if a.Encrypted() {
			return true
		}
	}
	return false
}

// FailClosedIfEncryptedWithoutKMSKeyARN refuses tables with encrypted
// attributes when no KMS key is configured.
func FailClosedIfEncryptedWithoutKMSKeyARN(keyARN string, s *model.Schema) error {
	if !SchemaHasEncryptedFields(s) || keyARN != "" {
		return nil
	}
	return fmt.Errorf("%w: table %s has encrypted attributes but no KMS key ARN is configured", customerrors.ErrEncryptionNotConfigured, s.Table())
}
