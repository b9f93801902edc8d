package object

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
)

const commitSignaturePrefix = "sshsig-v1"

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// CommitSigningPayload returns the canonical bytes that are signed for a
// commit. The payload intentionally excludes the signature field itself.
func CommitSigningPayload(c *CommitObj) []byte {
	if c == nil {
		return nil
	}
	copyCommit := *c
	copyCommit.Signature = ""
	return MarshalCommit(&copyCommit)
}

// Sign fills in c.Signature using signer. A nil signer leaves c unsigned.
func Sign(c *CommitObj, signer CommitSigner) error {
	if signer == nil {
		return nil
	}
	sig, err := signer(CommitSigningPayload(c))
	if err != nil {
		return fmt.Errorf("sign commit: %w", err)
	}
	c.Signature = sig
	return nil
}

// NewSSHSigner loads an SSH private key and returns a signer producing
// "sshsig-v1:<format>:<pubkey>:<sig>" signatures.
func NewSSHSigner(keyPath string) (CommitSigner, error) {
	resolved, err := homedir.Expand(strings.TrimSpace(keyPath))
	if err != nil {
		return nil, fmt.Errorf("resolve signing key %q: %w", keyPath, err)
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read signing key %q: %w", resolved, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signing key %q: %w", resolved, err)
	}
	return SSHSigner(signer), nil
}

// SSHSigner adapts an ssh.Signer to a CommitSigner.
func SSHSigner(signer ssh.Signer) CommitSigner {
	pubB64 := base64.StdEncoding.EncodeToString(signer.PublicKey().Marshal())
	return func(payload []byte) (string, error) {
		sig, err := signer.Sign(rand.Reader, payload)
		if err != nil {
			return "", err
		}
		sigB64 := base64.StdEncoding.EncodeToString(sig.Blob)
		return fmt.Sprintf("%s:%s:%s:%s", commitSignaturePrefix, sig.Format, pubB64, sigB64), nil
	}
}

// VerifyCommitSignature checks c.Signature against the commit payload and
// returns the signing public key.
func VerifyCommitSignature(c *CommitObj) (ssh.PublicKey, error) {
	parts := strings.SplitN(c.Signature, ":", 4)
	if len(parts) != 4 || parts[0] != commitSignaturePrefix {
		return nil, fmt.Errorf("verify signature: unsupported signature format")
	}
	pubRaw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("verify signature: public key: %w", err)
	}
	pub, err := ssh.ParsePublicKey(pubRaw)
	if err != nil {
		return nil, fmt.Errorf("verify signature: public key: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("verify signature: blob: %w", err)
	}
	if err := pub.Verify(CommitSigningPayload(c), &ssh.Signature{Format: parts[1], Blob: blob}); err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}
	return pub, nil
}
