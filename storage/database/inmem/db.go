package inmemdb

import (
	"sync"

	"github.com/anquinko/tuition/core/catalog"
	"github.com/anquinko/tuition/core/ledger"
	"github.com/anquinko/tuition/core/user"
)

// DB is an in-memory database; every repository built on the same DB sees the same tables.
type DB struct {
	sync.RWMutex
	pkCount int64

	users   map[int64]user.User
	courses map[int64]catalog.Course
	levels  map[int64]catalog.Level
	classes map[int64]catalog.ClassRoom
	ledgerTables
}

// ledgerTables holds the rows a ledger unit of work may change.
type ledgerTables struct {
	registrations map[int64]ledger.Registration
	transactions  map[int64]ledger.Transaction
}

func Open() *DB {
	return &DB{
		users:   make(map[int64]user.User),
		courses: make(map[int64]catalog.Course),
		levels:  make(map[int64]catalog.Level),
		classes: make(map[int64]catalog.ClassRoom),
		ledgerTables: ledgerTables{
			registrations: make(map[int64]ledger.Registration),
			transactions:  make(map[int64]ledger.Transaction),
		},
	}
}

// nextID must be called with the write lock held.
func (db *DB) nextID() int64 {
	db.pkCount++
	return db.pkCount
}

func (lt ledgerTables) clone() ledgerTables {
	c := ledgerTables{
		registrations: make(map[int64]ledger.Registration, len(lt.registrations)),
		transactions:  make(map[int64]ledger.Transaction, len(lt.transactions)),
	}
	for id, reg := range lt.registrations {
		c.registrations[id] = reg
	}
	for id, tx := range lt.transactions {
		c.transactions[id] = tx
	}
	return c
}

func (lt ledgerTables) activeCount(classID int64) int {
	var n int
	for _, reg := range lt.registrations {
		if reg.ClassID == classID && reg.IsActive {
			n++
		}
	}
	return n
}
