package config

import (
	"os"
	"path/filepath"
)

const (
	credentialsFileVar       = "CREDENTIALS_FILE"
	credentialsPassphraseVar = "CREDENTIALS_PASSPHRASE"
)

type StorageConfig interface {
	GetCredentialsFile() string
	GetCredentialsPassphrase() string
}

type Storage struct {
	src source
}

var _ StorageConfig = Storage{}

func (s Storage) GetCredentialsFile() string {
	def := "credentials.enc"
	if dir, err := os.UserConfigDir(); err == nil {
		def = filepath.Join(dir, "foodmobile", "credentials.enc")
	}
	return s.src.get(credentialsFileVar, def)
}

func (s Storage) GetCredentialsPassphrase() string {
	return s.src.get(credentialsPassphraseVar, "")
}
