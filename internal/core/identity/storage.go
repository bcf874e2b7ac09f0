package identity

import (
	"crypto/ed25519"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// pemTypeEd25519Private PEM 块类型
const pemTypeEd25519Private = "ED25519 PRIVATE KEY"

var (
	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")
	// ErrKeyNotFound 密钥文件不存在
	ErrKeyNotFound = errors.New("identity: key not found")
)

// Save 保存私钥到 PEM 文件
//
// 使用原子写操作（临时文件 + rename），文件权限 0600。
func (i *Identity) Save(path string) error {
	data := pem.EncodeToMemory(&pem.Block{
		Type:  pemTypeEd25519Private,
		Bytes: i.priv,
	})
	return atomicWriteFile(path, data, 0600)
}

// Load 从 PEM 文件加载身份
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeEd25519Private {
		return nil, ErrInvalidPEM
	}
	return FromPrivateKey(ed25519.PrivateKey(block.Bytes))
}

// LoadOrGenerate 加载身份，文件不存在时生成新身份并保存
func LoadOrGenerate(path string) (*Identity, error) {
	id, err := Load(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	id, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}

// atomicWriteFile 原子写文件
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("重命名失败: %w", err)
	}

	success = true
	return nil
}
