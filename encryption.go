// Copyright 2025 The zip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionMethod identifies how an entry's payload is encrypted.
type EncryptionMethod uint8

// Supported encryption methods.
const (
	NotEncrypted EncryptionMethod = iota // Plain entry
	ZipCrypto                            // Legacy PKWARE stream cipher (weak, widely compatible)
	AES128                               // WinZip AES with a 128-bit key
	AES192                               // WinZip AES with a 192-bit key
	AES256                               // WinZip AES with a 256-bit key
)

// Compression method marker that signals WinZip AES; the real method is
// carried in the AES extra field.
const winZipAESMarker CompressionMethod = 99

const (
	zipCryptoHeaderLen = 12
	aesMacLen          = 10
	aesPasswordVerLen  = 2
	aesKDFIterations   = 1000
)

// aesStrength returns the WinZip strength byte, salt length and key
// length for an AES method.
func aesStrength(method EncryptionMethod) (strength byte, saltLen, keyLen int) {
	switch method {
	case AES128:
		return 1, 8, 16
	case AES192:
		return 2, 12, 24
	case AES256:
		return 3, 16, 32
	}
	return 0, 0, 0
}

func aesMethodFromStrength(strength byte) (EncryptionMethod, bool) {
	switch strength {
	case 1:
		return AES128, true
	case 2:
		return AES192, true
	case 3:
		return AES256, true
	}
	return NotEncrypted, false
}

// zipCryptoCipher is the traditional PKWARE stream cipher state.
// Each processed byte mutates the three key words.
type zipCryptoCipher struct {
	key0, key1, key2 uint32
}

func newZipCryptoCipher(password []byte) *zipCryptoCipher {
	c := &zipCryptoCipher{
		key0: 0x12345678,
		key1: 0x23456789,
		key2: 0x34567890,
	}
	for _, b := range password {
		c.update(b)
	}
	return c
}

func (c *zipCryptoCipher) update(b byte) {
	c.key0 = crc32.IEEETable[byte(c.key0)^b] ^ (c.key0 >> 8)
	c.key1 = (c.key1+(c.key0&0xff))*134775813 + 1
	c.key2 = crc32.IEEETable[byte(c.key2)^byte(c.key1>>24)] ^ (c.key2 >> 8)
}

func (c *zipCryptoCipher) streamByte() byte {
	t := c.key2 | 2
	return byte((t * (t ^ 1)) >> 8)
}

func (c *zipCryptoCipher) decryptByte(b byte) byte {
	b ^= c.streamByte()
	c.update(b)
	return b
}

func (c *zipCryptoCipher) encryptByte(b byte) byte {
	out := b ^ c.streamByte()
	c.update(b)
	return out
}

// zipCryptoReader decrypts a legacy-encrypted payload.
type zipCryptoReader struct {
	src    io.Reader
	cipher *zipCryptoCipher
}

// newZipCryptoReader consumes and verifies the 12-byte encryption
// header. The final header byte is checked against both historical
// conventions: the CRC-32 high byte and the MS-DOS time high byte.
// Either match accepts the password.
func newZipCryptoReader(src io.Reader, password []byte, crc uint32, dosTime uint16) (io.Reader, error) {
	c := newZipCryptoCipher(password)

	var header [zipCryptoHeaderLen]byte
	if _, err := io.ReadFull(src, header[:]); err != nil {
		return nil, fmt.Errorf("zip: reading encryption header: %w", err)
	}
	for i := range header {
		header[i] = c.decryptByte(header[i])
	}

	check := header[zipCryptoHeaderLen-1]
	if check != byte(crc>>24) && check != byte(dosTime>>8) {
		return nil, ErrPasswordMismatch
	}

	return &zipCryptoReader{src: src, cipher: c}, nil
}

func (r *zipCryptoReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	for i := 0; i < n; i++ {
		p[i] = r.cipher.decryptByte(p[i])
	}
	return n, err
}

// zipCryptoWriter encrypts a payload with the legacy cipher.
type zipCryptoWriter struct {
	dest   io.Writer
	cipher *zipCryptoCipher
	buf    []byte
}

// newZipCryptoWriter writes the 12-byte encryption header. checkByte is
// the verification byte placed last: the CRC-32 high byte when the
// checksum is known up front, the MS-DOS time high byte otherwise.
func newZipCryptoWriter(dest io.Writer, password []byte, checkByte byte) (io.Writer, error) {
	c := newZipCryptoCipher(password)

	var header [zipCryptoHeaderLen]byte
	if _, err := rand.Read(header[:zipCryptoHeaderLen-1]); err != nil {
		return nil, fmt.Errorf("zip: generating encryption header: %w", err)
	}
	header[zipCryptoHeaderLen-1] = checkByte
	for i := range header {
		header[i] = c.encryptByte(header[i])
	}
	if _, err := dest.Write(header[:]); err != nil {
		return nil, fmt.Errorf("zip: writing encryption header: %w", err)
	}

	return &zipCryptoWriter{dest: dest, cipher: c}, nil
}

func (w *zipCryptoWriter) Write(p []byte) (int, error) {
	if cap(w.buf) < len(p) {
		w.buf = make([]byte, len(p))
	}
	buf := w.buf[:len(p)]
	for i, b := range p {
		buf[i] = w.cipher.encryptByte(b)
	}
	if _, err := w.dest.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// aesCTR is AES in counter mode with a little-endian counter starting
// at one, as WinZip defines it. crypto/cipher's CTR counts big-endian
// and cannot be reused here.
type aesCTR struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	stream  [aes.BlockSize]byte
	used    int
}

func newAESCTR(key []byte) (*aesCTR, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	c := &aesCTR{block: block, used: aes.BlockSize}
	return c, nil
}

func (c *aesCTR) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.used == aes.BlockSize {
			for j := 0; j < aes.BlockSize; j++ {
				c.counter[j]++
				if c.counter[j] != 0 {
					break
				}
			}
			c.block.Encrypt(c.stream[:], c.counter[:])
			c.used = 0
		}
		dst[i] = src[i] ^ c.stream[c.used]
		c.used++
	}
}

// deriveAESKeys runs PBKDF2-HMAC-SHA1 over the password and salt,
// splitting the output into cipher key, MAC key and the two-byte
// password verification value.
func deriveAESKeys(password, salt []byte, keyLen int) (encKey, macKey, verify []byte) {
	derived := pbkdf2.Key(password, salt, aesKDFIterations, keyLen*2+aesPasswordVerLen, sha1.New)
	return derived[:keyLen], derived[keyLen : keyLen*2], derived[keyLen*2:]
}

// aesReader decrypts a WinZip AES payload. The trailing 10-byte
// authentication code is withheld from callers and verified against an
// HMAC-SHA1 of the full ciphertext once the payload is exhausted.
type aesReader struct {
	src    io.Reader
	ctr    *aesCTR
	mac    hash.Hash
	tail   [aesMacLen]byte // last aesMacLen bytes seen so far
	tailN  int
	done   bool
	macErr error
}

// newAESReader consumes the salt and password verification value.
// payloadLen is the compressed size from the entry header, covering
// salt, verifier, ciphertext and authentication code.
func newAESReader(src io.Reader, password []byte, method EncryptionMethod, payloadLen uint64) (io.Reader, error) {
	_, saltLen, keyLen := aesStrength(method)

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(src, salt); err != nil {
		return nil, fmt.Errorf("zip: reading salt: %w", err)
	}
	var pvv [aesPasswordVerLen]byte
	if _, err := io.ReadFull(src, pvv[:]); err != nil {
		return nil, fmt.Errorf("zip: reading password verifier: %w", err)
	}

	encKey, macKey, verify := deriveAESKeys(password, salt, keyLen)
	if pvv[0] != verify[0] || pvv[1] != verify[1] {
		return nil, ErrPasswordMismatch
	}

	ctr, err := newAESCTR(encKey)
	if err != nil {
		return nil, fmt.Errorf("zip: initializing cipher: %w", err)
	}

	overhead := uint64(saltLen + aesPasswordVerLen + aesMacLen)
	if payloadLen < overhead {
		return nil, fmt.Errorf("%w: encrypted payload too short", ErrMalformedHeader)
	}

	return &aesReader{
		src: io.LimitReader(src, int64(payloadLen-uint64(saltLen)-aesPasswordVerLen)),
		ctr: ctr,
		mac: hmac.New(sha1.New, macKey),
	}, nil
}

func (r *aesReader) Read(p []byte) (int, error) {
	if r.done {
		if r.macErr != nil {
			return 0, r.macErr
		}
		return 0, io.EOF
	}

	n, err := r.src.Read(p)
	n = r.absorb(p[:n])

	if err == io.EOF {
		r.done = true
		if r.tailN < aesMacLen {
			return n, fmt.Errorf("%w: truncated authentication code", ErrCorrupted)
		}
		expect := r.mac.Sum(nil)[:aesMacLen]
		if !hmac.Equal(expect, r.tail[:]) {
			r.macErr = ErrIntegrity
			if n == 0 {
				return 0, r.macErr
			}
			return n, nil
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
	return n, err
}

// absorb holds back the last aesMacLen bytes of the stream, feeds
// everything before them through the MAC and the cipher, and returns
// how many decrypted bytes landed in p.
func (r *aesReader) absorb(p []byte) int {
	if len(p) == 0 {
		return 0
	}

	// Merge the retained tail with the new bytes, then split off a new
	// tail from the end of the combined stream.
	combined := make([]byte, 0, r.tailN+len(p))
	combined = append(combined, r.tail[:r.tailN]...)
	combined = append(combined, p...)

	keep := len(combined) - aesMacLen
	if keep < 0 {
		keep = 0
	}
	r.tailN = copy(r.tail[:], combined[keep:])

	cipherText := combined[:keep]
	r.mac.Write(cipherText)
	r.ctr.XORKeyStream(cipherText, cipherText)
	return copy(p, cipherText)
}

// aesWriter encrypts a WinZip AES payload: salt, verifier, AES-CTR
// ciphertext, then the truncated HMAC-SHA1 code on Close.
type aesWriter struct {
	dest io.Writer
	ctr  *aesCTR
	mac  hash.Hash
	buf  []byte
}

func newAESWriter(dest io.Writer, password []byte, method EncryptionMethod) (*aesWriter, error) {
	_, saltLen, keyLen := aesStrength(method)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("zip: generating salt: %w", err)
	}

	encKey, macKey, verify := deriveAESKeys(password, salt, keyLen)

	ctr, err := newAESCTR(encKey)
	if err != nil {
		return nil, fmt.Errorf("zip: initializing cipher: %w", err)
	}

	if _, err := dest.Write(salt); err != nil {
		return nil, fmt.Errorf("zip: writing salt: %w", err)
	}
	if _, err := dest.Write(verify); err != nil {
		return nil, fmt.Errorf("zip: writing password verifier: %w", err)
	}

	return &aesWriter{
		dest: dest,
		ctr:  ctr,
		mac:  hmac.New(sha1.New, macKey),
	}, nil
}

func (w *aesWriter) Write(p []byte) (int, error) {
	if cap(w.buf) < len(p) {
		w.buf = make([]byte, len(p))
	}
	buf := w.buf[:len(p)]
	w.ctr.XORKeyStream(buf, p)
	w.mac.Write(buf)
	if _, err := w.dest.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close appends the authentication code. It does not close the
// underlying writer.
func (w *aesWriter) Close() error {
	code := w.mac.Sum(nil)[:aesMacLen]
	if _, err := w.dest.Write(code); err != nil {
		return fmt.Errorf("zip: writing authentication code: %w", err)
	}
	return nil
}

// aesVersionFor picks AE-1 or AE-2. AE-2 omits the CRC from headers and
// is used for payloads above 20 bytes; tiny payloads keep AE-1 so the
// CRC can disambiguate wrong-password plaintext.
func aesVersionFor(uncompressedSize uint64, sizeKnown bool) uint16 {
	if sizeKnown && uncompressedSize <= 20 {
		return 1
	}
	return 2
}
