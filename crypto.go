package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Security answers are sealed, not hashed: the recovery success page shows
// the organizer their own answer back, so the value must be recoverable.

var sealKey [32]byte

var errCipherTooShort = errors.New("ciphertext too short")

func InitSealKey(secret string) {
	sealKey = sha256.Sum256([]byte(secret))
}

func sealValue(plain string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &sealKey)
	return base64.StdEncoding.EncodeToString(out), nil
}

func openValue(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	if len(raw) < 24 {
		return "", errCipherTooShort
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &sealKey)
	if !ok {
		return "", errors.New("could not open sealed value")
	}
	return string(plain), nil
}
