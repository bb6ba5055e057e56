package buffer

import (
	"math/rand/v2"
	"runtime"
	"sync"
	"testing"

	"bufferdb/file"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferManager(t *testing.T) {
	t.Run("basic buffer operations", func(t *testing.T) {
		env := setupTest(t, 3, NewNaiveStrategy())

		blk := createBlock("testfile", 1)
		buff, err := env.bm.Pin(blk)
		require.NoError(t, err)
		assert.True(t, blk.Equals(buff.Block()), "buffer should be assigned to correct block")
		assert.NotSame(t, blk, buff.Block(), "the pool keeps its own copy of the block id")
		assert.Equal(t, 2, env.bm.Available())

		require.NoError(t, env.bm.Unpin(buff))
		assert.Equal(t, 3, env.bm.Available(), "buffer should be available after unpinning")
	})

	t.Run("buffer allocation until full", func(t *testing.T) {
		env := setupTest(t, 3, NewNaiveStrategy())

		buffers := make([]*Buffer, 3)
		for i := range buffers {
			buff, err := env.bm.Pin(createBlock("testfile", i+1))
			require.NoError(t, err)
			buffers[i] = buff
		}
		assert.Equal(t, 0, env.bm.Available(), "no buffers should be available")

		_, err := env.bm.Pin(createBlock("testfile", 4))
		assert.True(t, IsPoolExhausted(err), "got %v", err)

		for _, buff := range buffers {
			require.NoError(t, env.bm.Unpin(buff))
		}
		assert.Equal(t, 3, env.bm.Available())
	})

	t.Run("buffer reuse after unpin", func(t *testing.T) {
		env := setupTest(t, 2, NewNaiveStrategy())

		buff1, err := env.bm.Pin(createBlock("testfile", 1))
		require.NoError(t, err)
		_, err = env.bm.Pin(createBlock("testfile", 2))
		require.NoError(t, err)

		require.NoError(t, env.bm.Unpin(buff1))

		buff3, err := env.bm.Pin(createBlock("testfile", 3))
		require.NoError(t, err)
		assert.Same(t, buff1, buff3, "should reuse unpinned buffer")
		assert.Equal(t, 3, buff3.Block().Number())
	})

	t.Run("dirty page survives eviction", func(t *testing.T) {
		env := setupTest(t, 1, NewNaiveStrategy())

		blk := createBlock("testfile", 0)
		buff, err := env.bm.Pin(blk)
		require.NoError(t, err)
		require.NoError(t, buff.Contents().SetString(0, "persisted"))
		lsn, err := env.lm.Append([]byte("update"))
		require.NoError(t, err)
		require.NoError(t, env.bm.SetModified(buff, 1, lsn))
		require.NoError(t, env.bm.Unpin(buff))

		// loading another block evicts and writes the dirty one
		other, err := env.bm.Pin(createBlock("testfile", 1))
		require.NoError(t, err)
		require.NoError(t, env.bm.Unpin(other))

		page := file.NewPage(testBlockSize)
		require.NoError(t, env.fm.Read(blk, page))
		got, err := page.GetString(0)
		require.NoError(t, err)
		assert.Equal(t, "persisted", got)
	})
}

func TestPinSameBlockTwice(t *testing.T) {
	for _, strategy := range allStrategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			bm, _, _ := newMemManager(3, strategy)

			first, err := bm.Pin(createBlock("f", 7))
			require.NoError(t, err)
			second, err := bm.Pin(createBlock("f", 7))
			require.NoError(t, err)

			assert.Same(t, first, second)
			assert.Equal(t, 2, first.PinCount())
			assert.Equal(t, 2, bm.Available(), "a second pin of a pinned buffer does not consume availability")

			resident := 0
			for _, b := range bm.Buffers() {
				if b.Block() != nil && b.Block().Equals(createBlock("f", 7)) {
					resident++
				}
			}
			assert.Equal(t, 1, resident)

			require.NoError(t, bm.Unpin(first))
			assert.Equal(t, 2, bm.Available())
			require.NoError(t, bm.Unpin(first))
			assert.Equal(t, 3, bm.Available())
		})
	}
}

func TestUnpinInvalidState(t *testing.T) {
	bm, _, _ := newMemManager(2, NewLRUStrategy())

	buff, err := bm.Pin(createBlock("f", 1))
	require.NoError(t, err)
	require.NoError(t, bm.Unpin(buff))

	before := snapshotOf(bm)
	err = bm.Unpin(buff)
	assert.True(t, IsInvalidState(err), "got %v", err)
	assert.Equal(t, before, snapshotOf(bm), "a rejected unpin changes nothing")
	assert.Equal(t, 0, buff.PinCount())

	other, _, _ := newMemManager(2, NewLRUStrategy())
	foreign, err := other.Pin(createBlock("f", 1))
	require.NoError(t, err)
	assert.True(t, IsInvalidState(bm.Unpin(foreign)))
	assert.True(t, IsInvalidState(bm.Unpin(nil)))
	assert.Equal(t, 1, foreign.PinCount())
}

func TestExhaustedPoolIsUntouched(t *testing.T) {
	for _, strategy := range allStrategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			bm, store, _ := newMemManager(3, strategy)
			for i := 0; i < 3; i++ {
				_, err := bm.Pin(createBlock("f", i))
				require.NoError(t, err)
			}
			before := snapshotOf(bm)
			writes := len(store.written())

			_, err := bm.Pin(createBlock("f", 99))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPoolExhausted))
			_, err = bm.PinNew("f", nil)
			assert.True(t, IsPoolExhausted(err))

			assert.Equal(t, before, snapshotOf(bm))
			assert.Len(t, store.written(), writes, "no block was appended or written")
			assert.Equal(t, int64(2), bm.Stats().Exhausted)
		})
	}
}

func TestAvailableMatchesUnpinnedSlots(t *testing.T) {
	for _, strategy := range allStrategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			bm, _, _ := newMemManager(4, strategy)
			rng := rand.New(rand.NewPCG(42, uint64(strategy.Code())))
			var held []*Buffer

			for step := 0; step < 1000; step++ {
				if len(held) == 0 || rng.IntN(2) == 0 {
					buff, err := bm.Pin(createBlock("f", rng.IntN(8)))
					if err != nil {
						require.True(t, IsPoolExhausted(err), "step %d: %v", step, err)
					} else {
						held = append(held, buff)
					}
				} else {
					i := rng.IntN(len(held))
					require.NoError(t, bm.Unpin(held[i]), "step %d", step)
					held = append(held[:i], held[i+1:]...)
				}

				require.Equal(t, unpinnedCount(bm), bm.Available(), "step %d", step)
				seen := make(map[file.BlockId]bool)
				for _, b := range bm.Buffers() {
					require.GreaterOrEqual(t, b.PinCount(), 0)
					if b.Block() != nil {
						require.False(t, seen[*b.Block()], "block %s resident twice", b.Block())
						seen[*b.Block()] = true
					}
				}
			}
		})
	}
}

func TestPinNew(t *testing.T) {
	bm, store, _ := newMemManager(2, NewFIFOStrategy())

	fmtr := PageFormatterFunc(func(p *file.Page) { p.SetInt(0, 77) })
	buff, err := bm.PinNew("table.tbl", fmtr)
	require.NoError(t, err)

	assert.Equal(t, *file.NewBlockId("table.tbl", 0), *buff.Block())
	assert.Equal(t, 77, buff.Contents().GetInt(0))
	assert.Equal(t, 1, buff.PinCount())
	assert.Equal(t, 1, bm.Available())
	assert.Empty(t, bm.pool.arrivals.snapshot(), "PinNew leaves the arrival order alone")
	assert.Equal(t, []file.BlockId{*buff.Block()}, store.written(), "the formatted page is written to the new block")

	second, err := bm.PinNew("table.tbl", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Block().Number())
	assert.Equal(t, 0, second.Contents().GetInt(0))
	assert.Equal(t, int64(2), bm.Stats().NewBlocks)
}

func TestFlushAll(t *testing.T) {
	bm, store, lr := newMemManager(4, NewNaiveStrategy())

	pinned := make([]*Buffer, 3)
	for i := range pinned {
		buff, err := bm.Pin(createBlock("f", i))
		require.NoError(t, err)
		pinned[i] = buff
	}
	require.NoError(t, bm.SetModified(pinned[0], 1, 10))
	require.NoError(t, bm.SetModified(pinned[1], 2, 11))
	require.NoError(t, bm.SetModified(pinned[2], 1, 12))
	before := snapshotOf(bm)

	require.NoError(t, bm.FlushAll(1))

	assert.ElementsMatch(t, []file.BlockId{*createBlock("f", 0), *createBlock("f", 2)}, store.written())
	assert.Equal(t, []int{10, 12}, lr.flushed, "the log is forced before each page write")
	assert.Equal(t, -1, pinned[0].ModifyingTxn())
	assert.Equal(t, 2, pinned[1].ModifyingTxn(), "other transactions stay dirty")
	assert.Equal(t, before, snapshotOf(bm), "flushing does not unpin or evict")
	assert.Equal(t, int64(2), bm.Stats().Flushes)

	require.NoError(t, bm.FlushAll(1))
	assert.Len(t, store.written(), 2, "clean buffers are not written again")
}

func TestIOErrorsPassThrough(t *testing.T) {
	errDisk := errors.New("disk on fire")

	t.Run("read failure leaves the slot free", func(t *testing.T) {
		bm, store, _ := newMemManager(2, NewNaiveStrategy())
		store.readErr = errDisk

		_, err := bm.Pin(createBlock("f", 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errDisk))
		assert.False(t, IsPoolExhausted(err))
		assert.Equal(t, 2, bm.Available())
		for _, b := range bm.Buffers() {
			assert.Nil(t, b.Block())
		}

		store.readErr = nil
		buff, err := bm.Pin(createBlock("f", 1))
		require.NoError(t, err)
		assert.Equal(t, 0, buff.Index())
	})

	t.Run("append failure", func(t *testing.T) {
		bm, store, _ := newMemManager(2, NewNaiveStrategy())
		store.appendErr = errDisk

		_, err := bm.PinNew("f", nil)
		assert.True(t, errors.Is(err, errDisk))
		assert.Equal(t, 2, bm.Available())
	})

	t.Run("flush failure", func(t *testing.T) {
		bm, _, lr := newMemManager(1, NewNaiveStrategy())
		buff, err := bm.Pin(createBlock("f", 1))
		require.NoError(t, err)
		require.NoError(t, bm.SetModified(buff, 3, 1))
		lr.err = errDisk

		assert.True(t, errors.Is(bm.FlushAll(3), errDisk))
		require.NoError(t, bm.Unpin(buff))

		_, err = bm.Pin(createBlock("f", 2))
		assert.True(t, errors.Is(err, errDisk), "the dirty victim cannot be written")
		assert.Equal(t, 3, buff.ModifyingTxn())
		assert.True(t, createBlock("f", 1).Equals(buff.Block()), "the victim keeps its block")
	})

	for _, strategy := range []ReplacementStrategy{NewFIFOStrategy(), NewLRUStrategy()} {
		t.Run("flush failure keeps the victim eligible under "+strategy.String(), func(t *testing.T) {
			bm, _, lr := newMemManager(1, strategy)
			buff, err := bm.Pin(createBlock("f", 1))
			require.NoError(t, err)
			require.NoError(t, bm.SetModified(buff, 3, 1))
			require.NoError(t, bm.Unpin(buff))

			before := snapshotOf(bm)
			lr.err = errDisk
			_, err = bm.Pin(createBlock("f", 2))
			require.True(t, errors.Is(err, errDisk))
			assert.Equal(t, before.arrivals, bm.pool.arrivals.snapshot())
			assert.Equal(t, before.recency, bm.pool.recency.snapshot())

			lr.err = nil
			again, err := bm.Pin(createBlock("f", 2))
			require.NoError(t, err, "the slot is reused once the disk recovers")
			assert.Equal(t, 0, again.Index())
			assert.Equal(t, -1, again.ModifyingTxn(), "the dirty page was written on the retry")
			assert.Equal(t, []int{1}, lr.flushed)
		})
	}
}

func TestSetModified(t *testing.T) {
	bm, _, _ := newMemManager(2, NewNaiveStrategy())
	buff, err := bm.Pin(createBlock("f", 1))
	require.NoError(t, err)

	require.NoError(t, bm.SetModified(buff, 4, 7))
	assert.Equal(t, 4, buff.ModifyingTxn())
	require.NoError(t, bm.SetModified(buff, 5, -1))
	assert.Equal(t, 5, buff.ModifyingTxn())

	require.NoError(t, bm.Unpin(buff))
	assert.True(t, IsInvalidState(bm.SetModified(buff, 6, 8)), "the buffer must be pinned")
	assert.Equal(t, 5, buff.ModifyingTxn())

	other, _, _ := newMemManager(1, NewNaiveStrategy())
	foreign, err := other.Pin(createBlock("f", 1))
	require.NoError(t, err)
	assert.True(t, IsInvalidState(bm.SetModified(foreign, 6, 8)))
}

// Marking buffers dirty while another transaction commits must not race with the scan in FlushAll.
func TestSetModifiedDuringFlushAll(t *testing.T) {
	bm, store, _ := newMemManager(2, NewNaiveStrategy())
	mine, err := bm.Pin(createBlock("f", 0))
	require.NoError(t, err)
	theirs, err := bm.Pin(createBlock("f", 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, bm.SetModified(mine, 1, i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, bm.SetModified(theirs, 2, i))
			assert.NoError(t, bm.FlushAll(2))
		}
	}()
	wg.Wait()

	assert.Equal(t, 1, mine.ModifyingTxn(), "flushing txn 2 leaves txn 1 dirty")
	assert.Equal(t, -1, theirs.ModifyingTxn())
	for _, blk := range store.written() {
		assert.Equal(t, 1, blk.BlockNumber)
	}
}

func TestUnsupportedStrategyCode(t *testing.T) {
	bm, _, _ := newMemManager(2, NewNaiveStrategy())
	resident, err := bm.Pin(createBlock("f", 1))
	require.NoError(t, err)

	bm.SetStrategyCode(9)
	assert.Equal(t, StrategyCode(9), bm.Strategy().Code())

	_, err = bm.Pin(createBlock("f", 2))
	assert.True(t, IsPoolExhausted(err), "no victim is ever chosen")
	_, err = bm.PinNew("f", nil)
	assert.True(t, IsPoolExhausted(err))

	again, err := bm.Pin(createBlock("f", 1))
	require.NoError(t, err, "resident blocks can still be pinned")
	assert.Same(t, resident, again)

	bm.SetStrategyCode(int(StrategyClock))
	_, err = bm.Pin(createBlock("f", 2))
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	bm, _, _ := newMemManager(1, NewNaiveStrategy())

	b, err := bm.Pin(createBlock("f", 1))
	require.NoError(t, err)
	_, err = bm.Pin(createBlock("f", 1))
	require.NoError(t, err)
	require.NoError(t, bm.Unpin(b))
	require.NoError(t, bm.Unpin(b))
	_, err = bm.Pin(createBlock("f", 2))
	require.NoError(t, err)

	s := bm.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
	assert.Equal(t, int64(1), s.Evictions)
	assert.InDelta(t, 1.0/3.0, s.HitRatio(), 1e-9)
	assert.Zero(t, Stats{}.HitRatio())
}

func TestInvalidCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { NewManager(newMemStore(), &logRecorder{}, 0) })
}

func TestConcurrentBufferAccess(t *testing.T) {
	for _, strategy := range allStrategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			bm, _, _ := newMemManager(3, strategy)

			var wg sync.WaitGroup
			for g := 0; g < 6; g++ {
				wg.Add(1)
				go func(seed uint64) {
					defer wg.Done()
					rng := rand.New(rand.NewPCG(seed, seed))
					for i := 0; i < 200; i++ {
						blk := createBlock("f", rng.IntN(10))
						var buff *Buffer
						for {
							var err error
							buff, err = bm.Pin(blk)
							if err == nil {
								break
							}
							if !assert.True(t, IsPoolExhausted(err)) {
								return
							}
							runtime.Gosched()
						}
						assert.NoError(t, bm.Unpin(buff))
					}
				}(uint64(g))
			}
			wg.Wait()

			assert.Equal(t, 3, bm.Available(), "all buffers should be available after completion")
			assert.Equal(t, 3, unpinnedCount(bm))
		})
	}
}
