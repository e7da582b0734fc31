package pdf

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrPassword reports that a document is encrypted and the configured
// passwords could not open it.
var ErrPassword = errors.New("pdf is encrypted and could not be decrypted")

// Credentials contains the passwords tried on encrypted documents.
type Credentials struct {
	UserPassword  string `json:"user_password,omitempty" mapstructure:"user_password"`
	OwnerPassword string `json:"owner_password,omitempty" mapstructure:"owner_password"`
}

// Empty reports whether no password is set.
func (c Credentials) Empty() bool {
	return c.UserPassword == "" && c.OwnerPassword == ""
}

// IsEncrypted checks whether pdfcpu refuses the file for lack of a password.
func IsEncrypted(path string) (bool, error) {
	_, err := api.PageCountFile(path)
	if err == nil {
		return false, nil
	}
	if IsPasswordError(err) {
		return true, nil
	}
	return false, fmt.Errorf("failed to check PDF encryption status: %w", err)
}

// decrypt writes a decrypted copy of inFile to outFile.
func decrypt(inFile, outFile string, creds Credentials) error {
	if err := api.DecryptFile(inFile, outFile, decryptionConfig(creds)); err != nil {
		_ = os.Remove(outFile)
		return fmt.Errorf("%w: %w", ErrPassword, err)
	}
	return nil
}

func decryptionConfig(creds Credentials) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = creds.UserPassword
	conf.OwnerPW = creds.OwnerPassword
	return conf
}

// IsPasswordError checks if an error is related to password/encryption issues.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPassword) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{"password", "encrypted", "decrypt", "authentication"} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
