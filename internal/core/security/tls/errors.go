package tls

import "errors"

// TLS 相关错误
var (
	// ErrNoCertificate 对端未提供证书
	ErrNoCertificate = errors.New("tls: no certificate provided")

	// ErrNodeIDMismatch 对端身份与期望不一致
	ErrNodeIDMismatch = errors.New("tls: node ID mismatch")

	// ErrUnsupportedKey 证书公钥不是 Ed25519
	ErrUnsupportedKey = errors.New("tls: unsupported certificate public key")

	// ErrCertificateExpired 证书不在有效期内
	ErrCertificateExpired = errors.New("tls: certificate not valid at current time")
)
