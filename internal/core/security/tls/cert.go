package tls

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/dep2p/go-whanau/internal/core/identity"
	"github.com/dep2p/go-whanau/pkg/types"
)

// certValidity 证书有效期
const certValidity = 365 * 24 * time.Hour

// GenerateCertificate 用身份私钥生成自签名证书
//
// 证书公钥必须与身份公钥一致，以保证身份不可伪造。
func GenerateCertificate(id *identity.Identity) (*tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("生成序列号失败: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Whanau"},
			CommonName:   "Whanau Node " + id.ID().ShortString(),
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, id.PublicKey(), id.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("创建证书失败: %w", err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("解析证书失败: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  id.PrivateKey(),
		Leaf:        leaf,
	}, nil
}

// NodeIDFromCert 从证书公钥派生身份
func NodeIDFromCert(cert *x509.Certificate) (types.NodeID, error) {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return types.EmptyNodeID, fmt.Errorf("%w: %T", ErrUnsupportedKey, cert.PublicKey)
	}
	return types.NodeIDFromPublicKey(pub), nil
}

// verifyPeerCertificate 校验对端证书
//
//  1. 从证书公钥派生身份
//  2. 若 expected 非空，派生身份必须等于 expected
//  3. 证书必须在有效期内
func verifyPeerCertificate(rawCerts [][]byte, expected types.NodeID) error {
	if len(rawCerts) == 0 {
		return ErrNoCertificate
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("解析证书失败: %w", err)
	}

	derived, err := NodeIDFromCert(cert)
	if err != nil {
		return err
	}
	if !expected.IsEmpty() && derived != expected {
		return fmt.Errorf("%w: 期望 %s, 实际 %s", ErrNodeIDMismatch, expected, derived)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return ErrCertificateExpired
	}

	// 自签名完整性由握手本身保证（CertificateVerify 使用证书公钥）
	return nil
}

// nodeIDFromState 从握手完成的连接状态提取对端身份
func nodeIDFromState(state tls.ConnectionState) (types.NodeID, error) {
	if len(state.PeerCertificates) == 0 {
		return types.EmptyNodeID, ErrNoCertificate
	}
	return NodeIDFromCert(state.PeerCertificates[0])
}
