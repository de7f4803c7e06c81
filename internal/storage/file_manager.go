package storage

import (
	"charsync/internal/codec/interfaces"
	"charsync/internal/models"
	"charsync/internal/providers"
	"fmt"
	json "github.com/goccy/go-json"
	"os"
)

const storeFileVersion = 1

// storeFile is the on-disk envelope of the memory store.
type storeFile struct {
	Version    int                 `json:"version"`
	Characters []*models.Aggregate `json:"characters"`
}

type FileManager struct {
	store      *MemoryStore
	compressor interfaces.CompressorInterface
	logger     providers.Logger
}

func NewFileManager(compressor interfaces.CompressorInterface, store *MemoryStore, logger providers.Logger) *FileManager {
	return &FileManager{
		compressor: compressor,
		store:      store,
		logger:     logger,
	}
}

func (f *FileManager) SaveToFile(fileName string) error {
	jsonData, err := json.Marshal(storeFile{
		Version:    storeFileVersion,
		Characters: f.store.Dump(),
	})
	if err != nil {
		return err
	}
	data, err := f.compressor.Compress(jsonData)
	if err != nil {
		return err
	}

	tmpFile := fileName + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	if err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}

	return os.Rename(tmpFile, fileName)
}

func (f *FileManager) LoadFromFile(fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	decompressedData, err := f.compressor.Decompress(data)
	if err != nil {
		return err
	}

	var stored storeFile
	if err := json.Unmarshal(decompressedData, &stored); err != nil {
		return err
	}
	if stored.Version > storeFileVersion {
		return fmt.Errorf("store file %s has version %d, newest supported is %d", fileName, stored.Version, storeFileVersion)
	}

	f.store.Load(stored.Characters)
	f.logger.Infof(providers.TypeApp, "Loaded %d characters from %s", len(stored.Characters), fileName)
	return nil
}
