package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	submitErr  error
	confirmErr error
	txHash     common.Hash
	submits    int
	confirms   int
}

func (f *fakeSubmitter) Submit(ctx context.Context, calldata []byte) (common.Hash, error) {
	f.submits++
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return f.txHash, nil
}

func (f *fakeSubmitter) Confirm(ctx context.Context, txHash common.Hash) error {
	f.confirms++
	return f.confirmErr
}

type fakeBinder struct {
	bindErr   error
	submitter *fakeSubmitter
	binds     int
}

func (f *fakeBinder) Bind(ctx context.Context, chainID int64) (Submitter, error) {
	f.binds++
	if f.bindErr != nil {
		return nil, f.bindErr
	}
	return f.submitter, nil
}

func writerTimeouts() StageTimeouts {
	return StageTimeouts{Bind: time.Second, Submit: time.Second, Confirm: time.Second}
}

type callbackRecorder struct {
	successHash string
	errStage    WriteStage
	errHash     string
	err         error
}

func (r *callbackRecorder) request(chainID int64, calldata []byte) WriteRequest {
	return WriteRequest{
		ChainID:  chainID,
		Calldata: calldata,
		OnSuccess: func(txHash string) {
			r.successHash = txHash
		},
		OnError: func(stage WriteStage, txHash string, err error) {
			r.errStage = stage
			r.errHash = txHash
			r.err = err
		},
	}
}

func TestHandleHappyPath(t *testing.T) {
	hash := common.HexToHash("0x1234")
	binder := &fakeBinder{submitter: &fakeSubmitter{txHash: hash}}
	writer := NewTxWriter(binder, writerTimeouts(), testLogger())

	var rec callbackRecorder
	writer.Handle(context.Background(), rec.request(1, []byte{0x01}))

	status := writer.Status()
	assert.Equal(t, StateSuccess, status.State)
	assert.Equal(t, hash.Hex(), status.TxHash)
	assert.Equal(t, hash.Hex(), rec.successHash)
	assert.NoError(t, rec.err)
	assert.Equal(t, 1, binder.binds)
	assert.Equal(t, 1, binder.submitter.submits)
	assert.Equal(t, 1, binder.submitter.confirms)
}

func TestHandleNoOpWithoutTargetChainOrCalldata(t *testing.T) {
	binder := &fakeBinder{submitter: &fakeSubmitter{}}
	writer := NewTxWriter(binder, writerTimeouts(), testLogger())

	var rec callbackRecorder
	writer.Handle(context.Background(), rec.request(0, []byte{0x01}))
	assert.Equal(t, StateIdle, writer.Status().State)

	writer.Handle(context.Background(), rec.request(1, nil))
	assert.Equal(t, StateIdle, writer.Status().State)

	assert.Zero(t, binder.binds)
	assert.NoError(t, rec.err)
}

func TestHandleBindFailure(t *testing.T) {
	binder := &fakeBinder{bindErr: errors.New("chain 5 not connected")}
	writer := NewTxWriter(binder, writerTimeouts(), testLogger())

	var rec callbackRecorder
	writer.Handle(context.Background(), rec.request(5, []byte{0x01}))

	status := writer.Status()
	assert.Equal(t, StateError, status.State)
	assert.Contains(t, status.SwitchErr, "not connected")
	assert.Empty(t, status.SubmitErr)
	assert.Empty(t, status.ConfirmErr)
	assert.Equal(t, StageSwitch, rec.errStage)
	assert.Empty(t, rec.errHash)
}

func TestHandleSubmitFailure(t *testing.T) {
	binder := &fakeBinder{submitter: &fakeSubmitter{submitErr: errors.New("user rejected")}}
	writer := NewTxWriter(binder, writerTimeouts(), testLogger())

	var rec callbackRecorder
	writer.Handle(context.Background(), rec.request(1, []byte{0x01}))

	status := writer.Status()
	assert.Equal(t, StateError, status.State)
	assert.Contains(t, status.SubmitErr, "user rejected")
	assert.Equal(t, StageSubmit, rec.errStage)
	assert.Zero(t, binder.submitter.confirms)
}

func TestHandleConfirmFailureRetainsTxHash(t *testing.T) {
	hash := common.HexToHash("0xdead")
	binder := &fakeBinder{submitter: &fakeSubmitter{txHash: hash, confirmErr: errors.New("timed out")}}
	writer := NewTxWriter(binder, writerTimeouts(), testLogger())

	var rec callbackRecorder
	writer.Handle(context.Background(), rec.request(1, []byte{0x01}))

	status := writer.Status()
	assert.Equal(t, StateError, status.State)
	// The hash survives the failure so the user can inspect the transaction.
	assert.Equal(t, hash.Hex(), status.TxHash)
	assert.Contains(t, status.ConfirmErr, "timed out")
	assert.Equal(t, StageConfirm, rec.errStage)
	assert.Equal(t, hash.Hex(), rec.errHash)
	assert.Empty(t, rec.successHash)
}

func TestHandleIsReentrant(t *testing.T) {
	hash := common.HexToHash("0x77")
	submitter := &fakeSubmitter{txHash: hash, confirmErr: errors.New("stalled")}
	binder := &fakeBinder{submitter: submitter}
	writer := NewTxWriter(binder, writerTimeouts(), testLogger())

	var rec callbackRecorder
	writer.Handle(context.Background(), rec.request(1, []byte{0x01}))
	require.Equal(t, StateError, writer.Status().State)

	// A re-invocation starts over from idle; no automatic retry happened in
	// between.
	submitter.confirmErr = nil
	writer.Handle(context.Background(), rec.request(1, []byte{0x01}))

	status := writer.Status()
	assert.Equal(t, StateSuccess, status.State)
	assert.Empty(t, status.ConfirmErr)
	assert.Equal(t, 2, submitter.submits)
}
