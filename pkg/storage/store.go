// SPDX-FileCopyrightText: 2024 The hibiki-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage persists account secrets between sessions.
package storage

import (
	"errors"
	"os"
	"path"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"
)

const dirBadger string = "db"

// ErrNotFound is returned for unknown accounts.
var ErrNotFound = badgerhold.ErrNotFound

// Store implements a storage for Secrets.
type Store struct {
	bh *badgerhold.Store

	badgerDir string
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<24 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{
			bh:        bh,
			badgerDir: badgerDir,
		}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// SaveSecrets inserts or replaces the Secrets of an account.
func (s *Store) SaveSecrets(secrets Secrets) error {
	secrets.seal()

	log.WithFields(log.Fields{
		"account": secrets.Account,
		"expires": secrets.Expires,
	}).Debug("Store saves secrets")

	return s.bh.Upsert(secrets.Account, secrets)
}

// LoadSecrets of an account. Tampered records are rejected with ErrChecksumMismatch.
func (s *Store) LoadSecrets(account string) (secrets Secrets, err error) {
	if err = s.bh.Get(account, &secrets); err != nil {
		return
	}

	if err = secrets.verify(); err != nil {
		log.WithFields(log.Fields{
			"account":  account,
			"checksum": secrets.Checksum,
		}).Warn("Stored secrets are corrupted")
	}
	return
}

// SaveServers updates the server list of an account, keeping all other fields.
func (s *Store) SaveServers(account string, servers []string) error {
	secrets, err := s.LoadSecrets(account)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrChecksumMismatch) {
		secrets = Secrets{Account: account}
	} else if err != nil {
		return err
	}

	secrets.Servers = append([]string(nil), servers...)
	return s.SaveSecrets(secrets)
}

// DeleteSecrets of an account, e.g., after the server rejected them.
func (s *Store) DeleteSecrets(account string) error {
	log.WithField("account", account).Info("Store deletes secrets")

	err := s.bh.Delete(account, Secrets{})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// DeleteExpired removes all expired Secrets.
func (s *Store) DeleteExpired() {
	var expired []Secrets
	if err := s.bh.Find(&expired, badgerhold.Where("Expires").Lt(time.Now())); err != nil {
		log.WithError(err).Warn("Failed to get expired secrets")
		return
	}

	for _, secrets := range expired {
		logger := log.WithField("account", secrets.Account)
		if err := s.DeleteSecrets(secrets.Account); err != nil {
			logger.WithError(err).Warn("Failed to delete expired secrets")
		} else {
			logger.Info("Deleted expired secrets")
		}
	}
}

// Accounts lists all accounts with stored Secrets.
func (s *Store) Accounts() (accounts []string, err error) {
	var all []Secrets
	if err = s.bh.Find(&all, nil); err != nil {
		return
	}
	for _, secrets := range all {
		accounts = append(accounts, secrets.Account)
	}
	return
}
