package lockmgr

import (
	"bytes"
	"time"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

type lockMgrImpl struct {
	store store.IStore
}

func NewLockManager(store store.IStore) ILockManager {
	return &lockMgrImpl{
		store: store,
	}
}

// newOwnerID returns the binary form of a random uuid
func newOwnerID() []byte {
	id := uuid.New()
	return id[:]
}

func (lm *lockMgrImpl) AcquireLock(key string, ttl time.Duration) (bool, []byte, error) {
	ownerID := newOwnerID()

	var err error
	if ttl > 0 {
		_, err = lm.store.CompareAndSwapE(key, 0, ownerID, ttl)
	} else {
		_, err = lm.store.CompareAndSwap(key, 0, ownerID)
	}

	switch store.CodeOf(err) {
	case store.RetCSuccess:
		return true, ownerID, nil
	case store.RetCVersionMismatch:
		// held by someone else
		return false, nil, nil
	default:
		return false, nil, err
	}
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	value, version, found, err := lm.store.Get(key, store.ReadLinearizable)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	if !bytes.Equal(ownerID, value) {
		return false, nil
	}

	err = lm.store.CompareAndDelete(key, version)
	switch store.CodeOf(err) {
	case store.RetCSuccess:
		return true, nil
	case store.RetCVersionMismatch:
		// expired and taken over (or expired and gone) since the read
		log.Debugf("lock %q changed before it could be released", key)
		_, _, found, err := lm.store.Get(key, store.ReadLinearizable)
		return err == nil && !found, err
	default:
		return false, err
	}
}
