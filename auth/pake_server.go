package auth

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cretz/gopaque/gopaque"

	"github.com/84adam/arkvault/crypto"
)

var (
	ErrPakeUserMismatch = errors.New("opaque message was issued for a different user")
	ErrPakeAuthFailed   = errors.New("opaque authentication failed")
)

// StoredRecord is the per-user OPAQUE state kept by the server. It never
// contains anything derived from the password that would allow an offline
// guess without the server's OPRF key.
type StoredRecord struct {
	UserPublicKey []byte `json:"userPublicKey"`
	EnvU          []byte `json:"envU"`
	KU            []byte `json:"kU"`
}

// Marshal encodes the record for the users table.
func (r *StoredRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ParseStoredRecord decodes a record written by Marshal.
func ParseStoredRecord(data []byte) (*StoredRecord, error) {
	var r StoredRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode opaque record: %w", err)
	}
	if len(r.UserPublicKey) == 0 || len(r.EnvU) == 0 || len(r.KU) == 0 {
		return nil, errors.New("opaque record is incomplete")
	}
	return &r, nil
}

// PendingRegistration is held between the two registration round trips.
type PendingRegistration struct {
	userID   []byte
	register *gopaque.ServerRegister
}

// PendingLogin is held between the two login round trips.
type PendingLogin struct {
	userID []byte
	auth   *gopaque.ServerAuth
	kex    *gopaque.KeyExchangeSigma
}

// PakeServer is the server half of the OPAQUE exchange. The long-term
// server key is loaded once and shared by every flow.
type PakeServer struct {
	newRegister func() *gopaque.ServerRegister
	restore     func(userID []byte, stored *StoredRecord) (*gopaque.ServerRegisterComplete, error)
}

// GeneratePakeServerKey returns a fresh hex-encoded server private key.
func GeneratePakeServerKey() (string, error) {
	raw, err := opaqueCrypto.NewKey(nil).MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// NewPakeServer loads the hex-encoded server private key.
func NewPakeServer(privateKeyHex string) (*PakeServer, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid opaque server key encoding: %w", err)
	}
	if len(raw) != opaqueCrypto.ScalarLen() {
		return nil, fmt.Errorf("opaque server key must be %d bytes, got %d", opaqueCrypto.ScalarLen(), len(raw))
	}
	key := opaqueCrypto.Scalar()
	if err := key.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("invalid opaque server key: %w", err)
	}

	return &PakeServer{
		newRegister: func() *gopaque.ServerRegister {
			return gopaque.NewServerRegister(opaqueCrypto, key)
		},
		restore: func(userID []byte, stored *StoredRecord) (*gopaque.ServerRegisterComplete, error) {
			userPub := opaqueCrypto.Point()
			if err := userPub.UnmarshalBinary(stored.UserPublicKey); err != nil {
				return nil, fmt.Errorf("invalid user public key in record: %w", err)
			}
			kU := opaqueCrypto.Scalar()
			if err := kU.UnmarshalBinary(stored.KU); err != nil {
				return nil, fmt.Errorf("invalid oprf key in record: %w", err)
			}
			return &gopaque.ServerRegisterComplete{
				UserID:           userID,
				ServerPrivateKey: key,
				UserPublicKey:    userPub,
				EnvU:             stored.EnvU,
				KU:               kU,
			}, nil
		},
	}, nil
}

// StartRegistration answers a client registration request for userID.
func (s *PakeServer) StartRegistration(userID string, request []byte) (pending *PendingRegistration, response []byte, err error) {
	defer recoverPake(&err)

	var init gopaque.UserRegisterInit
	if err := init.FromBytes(opaqueCrypto, request); err != nil {
		return nil, nil, fmt.Errorf("failed to decode registration request: %w", err)
	}
	if !bytes.Equal(init.UserID, []byte(userID)) {
		return nil, nil, ErrPakeUserMismatch
	}

	register := s.newRegister()
	response, err = register.Init(&init).ToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode registration response: %w", err)
	}
	return &PendingRegistration{userID: init.UserID, register: register}, response, nil
}

// FinishRegistration turns the uploaded client record into a StoredRecord.
func (s *PakeServer) FinishRegistration(pending *PendingRegistration, record []byte) (stored *StoredRecord, err error) {
	defer recoverPake(&err)
	if pending == nil {
		return nil, errors.New("registration was not started")
	}

	var complete gopaque.UserRegisterComplete
	if err := complete.FromBytes(opaqueCrypto, record); err != nil {
		return nil, fmt.Errorf("failed to decode registration record: %w", err)
	}

	reg := pending.register.Complete(&complete)
	userPub, err := reg.UserPublicKey.MarshalBinary()
	if err != nil {
		return nil, err
	}
	kU, err := reg.KU.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &StoredRecord{UserPublicKey: userPub, EnvU: reg.EnvU, KU: kU}, nil
}

// StartLogin answers a credential request against the user's stored record.
func (s *PakeServer) StartLogin(userID string, stored *StoredRecord, request []byte) (pending *PendingLogin, response []byte, err error) {
	defer recoverPake(&err)
	if stored == nil {
		return nil, nil, ErrPakeAuthFailed
	}

	var init gopaque.UserAuthInit
	if err := init.FromBytes(opaqueCrypto, request); err != nil {
		return nil, nil, fmt.Errorf("failed to decode login request: %w", err)
	}
	if !bytes.Equal(init.UserID, []byte(userID)) {
		return nil, nil, ErrPakeUserMismatch
	}

	reg, err := s.restore(init.UserID, stored)
	if err != nil {
		return nil, nil, err
	}

	kex := gopaque.NewKeyExchangeSigma(opaqueCrypto)
	serverAuth := gopaque.NewServerAuth(opaqueCrypto, kex)
	complete, err := serverAuth.Complete(&init, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to answer login request: %w", err)
	}
	response, err = complete.ToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode login response: %w", err)
	}
	return &PendingLogin{userID: init.UserID, auth: serverAuth, kex: kex}, response, nil
}

// FinishLogin verifies the client's key confirmation and returns the
// session key shared with the client. Any failure is ErrPakeAuthFailed.
func (s *PakeServer) FinishLogin(pending *PendingLogin, finishRequest []byte) (sessionKey []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			sessionKey, err = nil, ErrPakeAuthFailed
		}
	}()
	if pending == nil {
		return nil, errors.New("login was not started")
	}

	var complete gopaque.UserAuthComplete
	if err := complete.FromBytes(opaqueCrypto, finishRequest); err != nil {
		return nil, ErrPakeAuthFailed
	}
	if err := pending.auth.Finish(&complete); err != nil {
		return nil, ErrPakeAuthFailed
	}

	sessionKey, err = sessionKeyFromExchange(pending.kex)
	if err != nil {
		return nil, err
	}
	if err := crypto.ValidateSessionKey(sessionKey); err != nil {
		return nil, err
	}
	return sessionKey, nil
}
