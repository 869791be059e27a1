package chain

import (
	"context"
	"strconv"

	"github.com/cuemby/datahost/pkg/apperr"
	"github.com/cuemby/datahost/pkg/blockfile"
	"github.com/cuemby/datahost/pkg/metrics"
	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/txnlock"
	"github.com/cuemby/datahost/pkg/value"
)

// Chain owns a blockfile.File of Blocks and a TxnLock naming the only open
// (mutable) block ordinal. Block ids are decimal strings of that ordinal.
type Chain struct {
	file   *blockfile.File[Block]
	latest *txnlock.Cell[uint64]
}

// Load opens (or initializes) a chain backed by file: if the file already
// holds blocks, latest is recovered as the greatest existing block id, so a
// crash between committing the file and committing the latest pointer loses
// nothing. Otherwise block 0 is created seeded with NullHash.
func Load(ctx context.Context, id txn.ID, file *blockfile.File[Block]) (*Chain, error) {
	ids := file.BlockIDs(ctx, id)

	var latest uint64
	if len(ids) == 0 {
		if _, err := file.CreateBlock(ctx, id, blockName(0), NewBlock(NullHash)); err != nil {
			return nil, err
		}
	} else {
		for _, s := range ids {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindBadRequest, err, "blockchain block id must be a positive integer")
			}
			if n > latest {
				latest = n
			}
		}
	}

	return &Chain{file: file, latest: txnlock.New(latest)}, nil
}

func blockName(n uint64) string { return strconv.FormatUint(n, 10) }

// Append records a mutation into the currently open block.
func (c *Chain) Append(ctx context.Context, id txn.ID, p path.Path, key, val value.Value) error {
	rg, err := c.latest.Read(ctx, id)
	if err != nil {
		return err
	}
	latest := rg.Value
	rg.Close()

	wg, err := c.file.WriteBlock(ctx, id, blockName(latest))
	if err != nil {
		return err
	}

	block := wg.Value()
	block.Append(id, p, key, val)
	wg.Set(block)
	metrics.ChainAppendsTotal.Inc()
	return nil
}

// Commit reads the open block; if it has crossed BlockSize, seals it (bumps
// latest, creates a
// new block seeded with the sealed block's hash) as part of this same
// transaction; then commit latest, the file, and (by the caller, since the
// subject is a sibling participant, not owned by Chain) the subject,
// together.
func (c *Chain) Commit(ctx context.Context, id txn.ID) error {
	rg, err := c.latest.Read(ctx, id)
	if err != nil {
		return err
	}
	current := rg.Value
	rg.Close()

	blockGuard, err := c.file.ReadBlock(ctx, id, blockName(current))
	if err != nil {
		return err
	}
	size, sizeErr := blockGuard.Value.Size()
	hash, hashErr := blockGuard.Value.Hash()
	blockGuard.Close()
	if sizeErr != nil {
		return apperr.Wrap(apperr.KindInternal, sizeErr, "measuring chain block %d", current)
	}

	var latestWG *txnlock.WriteGuard[uint64]
	if size >= BlockSize {
		if hashErr != nil {
			return apperr.Wrap(apperr.KindInternal, hashErr, "hashing chain block %d", current)
		}

		wg, err := c.latest.Write(ctx, id)
		if err != nil {
			return err
		}
		wg.Set(current + 1)
		latestWG = wg

		if _, err := c.file.CreateBlock(ctx, id, blockName(current+1), NewBlock(hash)); err != nil {
			wg.Close()
			return err
		}
	}

	if err := c.file.Commit(id); err != nil {
		if latestWG != nil {
			latestWG.Close()
		}
		return err
	}
	if latestWG != nil {
		latestWG.Commit()
		metrics.ChainBlocksSealedTotal.Inc()
	}
	return nil
}

// Finalize reclaims history from the file and the latest cell. Finalize
// never commits anything: a pending write that reaches this point without a
// commit is discarded, not published.
func (c *Chain) Finalize(id txn.ID) error {
	c.latest.Finalize(id)
	return c.file.Finalize(id)
}

// Latest returns the current open block's ordinal, as visible to id.
func (c *Chain) Latest(ctx context.Context, id txn.ID) (uint64, error) {
	rg, err := c.latest.Read(ctx, id)
	if err != nil {
		return 0, err
	}
	defer rg.Close()
	return rg.Value, nil
}

// Replay returns the ordered stream of sealed blocks 0..latest (exclusive
// of the currently open one), the chain's durable history.
func (c *Chain) Replay(ctx context.Context, id txn.ID) ([]Block, error) {
	latest, err := c.Latest(ctx, id)
	if err != nil {
		return nil, err
	}

	blocks := make([]Block, 0, latest)
	for i := uint64(0); i < latest; i++ {
		rg, err := c.file.ReadBlock(ctx, id, blockName(i))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, rg.Value)
		rg.Close()
	}
	return blocks, nil
}
