package engine

import (
	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine/array"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine/bptree"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine/hash"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine/rbtree"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/lsm"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// compile-time assertions that every concrete engine satisfies Engine
// structurally, with no import back to this package.
var (
	_ Engine = (*array.Array)(nil)
	_ Engine = (*hash.Hash)(nil)
	_ Engine = (*rbtree.RBTree)(nil)
	_ Engine = (*bptree.BPTree)(nil)
	_ Engine = (*lsm.LSM)(nil)
)

// Config selects and configures one concrete engine. Only the field matching
// Kind is consulted; the others are ignored.
type Config struct {
	Kind types.EngineKind

	Array  array.Config
	Hash   hash.Config
	RBTree rbtree.Config
	BPTree bptree.Config
	LSM    lsm.Config
}

func (c Config) validate() error {
	switch c.Kind {
	case types.EngineArray, types.EngineHash, types.EngineRBTree, types.EngineBPlusTree, types.EngineLSM:
		return nil
	default:
		return kverrors.New("engine.create", kverrors.InvalidArg)
	}
}

// New builds the concrete engine selected by cfg.Kind.
func New(cfg Config) (Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case types.EngineArray:
		return array.New(cfg.Array)
	case types.EngineHash:
		return hash.New(cfg.Hash)
	case types.EngineRBTree:
		return rbtree.New(cfg.RBTree)
	case types.EngineBPlusTree:
		return bptree.New(cfg.BPTree)
	case types.EngineLSM:
		return lsm.New(cfg.LSM)
	default:
		return nil, kverrors.New("engine.create", kverrors.InvalidArg)
	}
}
