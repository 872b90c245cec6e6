package encryption

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"zipdaemon/internal/zipd"
)

// testMagic starts every stream produced by TestEncryptor.
var testMagic = []byte("ZDTEST1\n")

// testMask is XORed over every payload byte, so a test-encrypted zip is not
// readable as a zip while staying trivially reversible.
const testMask = 0x5a

// TestEncryptor is a deterministic, key-less stand-in for AgeEncryptor.
type TestEncryptor struct {
	setupCalled bool
}

var _ zipd.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, maskReader{r}); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (zipd.DecryptionContext, error) {
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext reverses TestEncryptor.
type TestDecryptionContext struct{}

var _ zipd.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	header := make([]byte, len(testMagic))
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testMagic) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, maskReader{br}); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

type maskReader struct{ r io.Reader }

func (m maskReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	for i := range p[:n] {
		p[i] ^= testMask
	}
	return n, err
}
