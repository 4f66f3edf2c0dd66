package dlcbolt

import (
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/mit-dci/dlcd/dlccore"
	"github.com/mit-dci/dlcd/dlcstate"
)

// GetContract returns the contract stored under id, or nil if there is none.
func (s *Store) GetContract(id dlcstate.ContractID) (*dlcstate.Contract, error) {
	var c *dlcstate.Contract
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(BKTContracts).Get(id[:])
		if v == nil {
			return nil
		}
		var err error
		c, err = dlcstate.DeserializeContract(v)
		return err
	})
	if err != nil {
		return nil, dlccore.NewStorageError(fmt.Sprintf("get contract %s", id), err)
	}
	return c, nil
}

// GetContracts returns every stored contract.
func (s *Store) GetContracts() ([]*dlcstate.Contract, error) {
	contracts := make([]*dlcstate.Contract, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BKTContracts).ForEach(func(k, v []byte) error {
			c, err := dlcstate.DeserializeContract(v)
			if err != nil {
				return fmt.Errorf("contract %x: %w", k, err)
			}
			contracts = append(contracts, c)
			return nil
		})
	})
	if err != nil {
		return nil, dlccore.NewStorageError("get contracts", err)
	}
	return contracts, nil
}

// CreateContract stores a new offer under its temporary id.
func (s *Store) CreateContract(o *dlcstate.OfferedContract) error {
	c := dlcstate.NewOfferedContract(o)
	data, err := dlcstate.SerializeContract(c)
	if err != nil {
		return dlccore.NewStorageError("create contract", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BKTContracts).Put(o.ID[:], data)
	})
	return dlccore.NewStorageError(fmt.Sprintf("create contract %s", o.ID), err)
}

// putContract writes c under its current id, removing the temporary id
// record first when c has just been rekeyed.
func putContract(tx *bolt.Tx, c *dlcstate.Contract) error {
	data, err := dlcstate.SerializeContract(c)
	if err != nil {
		return err
	}
	b := tx.Bucket(BKTContracts)
	if c.IsRekeyed() {
		tmp := c.TemporaryID()
		if err := b.Delete(tmp[:]); err != nil {
			return err
		}
	}
	id := c.ID()
	return b.Put(id[:], data)
}

// UpdateContract stores c in one transaction.
func (s *Store) UpdateContract(c *dlcstate.Contract) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putContract(tx, c)
	})
	return dlccore.NewStorageError(fmt.Sprintf("update contract %s", c.ID()), err)
}

// DeleteContract removes the contract stored under id.
func (s *Store) DeleteContract(id dlcstate.ContractID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BKTContracts).Delete(id[:])
	})
	return dlccore.NewStorageError(fmt.Sprintf("delete contract %s", id), err)
}

func (s *Store) contractsInState(state dlcstate.ContractState, fn func(c *dlcstate.Contract)) error {
	prefix := []byte{dlcstate.ContractPrefix(state)}
	return s.db.View(func(tx *bolt.Tx) error {
		return scanWithPrefix(tx, BKTContracts, prefix, func(record []byte) error {
			c, err := dlcstate.DeserializeContract(record)
			if err != nil {
				return err
			}
			fn(c)
			return nil
		})
	})
}

// GetContractOffers returns contracts in the Offered state.
func (s *Store) GetContractOffers() ([]*dlcstate.OfferedContract, error) {
	res := make([]*dlcstate.OfferedContract, 0)
	err := s.contractsInState(dlcstate.ContractOffered, func(c *dlcstate.Contract) {
		res = append(res, c.Offered)
	})
	if err != nil {
		return nil, dlccore.NewStorageError("get contract offers", err)
	}
	return res, nil
}

// GetSignedContracts returns contracts in the Signed state.
func (s *Store) GetSignedContracts() ([]*dlcstate.SignedContract, error) {
	res := make([]*dlcstate.SignedContract, 0)
	err := s.contractsInState(dlcstate.ContractSigned, func(c *dlcstate.Contract) {
		res = append(res, c.Signed)
	})
	if err != nil {
		return nil, dlccore.NewStorageError("get signed contracts", err)
	}
	return res, nil
}

// GetConfirmedContracts returns contracts in the Confirmed state.
func (s *Store) GetConfirmedContracts() ([]*dlcstate.SignedContract, error) {
	res := make([]*dlcstate.SignedContract, 0)
	err := s.contractsInState(dlcstate.ContractConfirmed, func(c *dlcstate.Contract) {
		res = append(res, c.Signed)
	})
	if err != nil {
		return nil, dlccore.NewStorageError("get confirmed contracts", err)
	}
	return res, nil
}

// GetPreClosedContracts returns contracts waiting on their CET.
func (s *Store) GetPreClosedContracts() ([]*dlcstate.PreClosedContract, error) {
	res := make([]*dlcstate.PreClosedContract, 0)
	err := s.contractsInState(dlcstate.ContractPreClosed, func(c *dlcstate.Contract) {
		res = append(res, c.PreClosed)
	})
	if err != nil {
		return nil, dlccore.NewStorageError("get preclosed contracts", err)
	}
	return res, nil
}
