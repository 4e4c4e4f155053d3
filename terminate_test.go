//go:build linux

package sigtrace

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTerminateShims(t *testing.T) (aborted chan struct{}, chained chan any) {
	t.Helper()

	require.True(t, terminateHandlerInitialize())
	t.Cleanup(terminateHandlerShutdown)

	aborted = make(chan struct{}, 4)
	oldAbort := abortFn
	abortFn = func() { aborted <- struct{}{} }
	t.Cleanup(func() { abortFn = oldAbort })

	chained = make(chan any, 4)
	prev := SetTerminateHandler(func(v any) { chained <- v })
	t.Cleanup(func() { SetTerminateHandler(prev) })

	return aborted, chained
}

func TestProtectSpillsExceptionReport(t *testing.T) {
	dir := withReportsDir(t)
	aborted, chained := withTerminateShims(t)

	Protect(func() {
		panic("boom")
	})

	select {
	case v := <-chained:
		assert.Equal(t, "boom", v)
	default:
		t.Fatal("previous terminate handler never ran")
	}
	select {
	case <-aborted:
	default:
		t.Fatal("terminate handling did not abort after chaining")
	}

	require.Len(t, reportFiles(t, dir, "ex-"), 1)
}

func TestProtectWithoutPanicIsTransparent(t *testing.T) {
	dir := withReportsDir(t)
	aborted, _ := withTerminateShims(t)

	ran := false
	Protect(func() { ran = true })

	assert.True(t, ran)
	assert.Empty(t, aborted)
	assert.Empty(t, reportFiles(t, dir, "ex-"))
}

func TestGoProtectsUserGoroutines(t *testing.T) {
	dir := withReportsDir(t)
	aborted, _ := withTerminateShims(t)

	Go(func() {
		panic(errors.New("worker died"))
	})

	select {
	case <-aborted:
	case <-time.After(3 * time.Second):
		t.Fatal("goroutine panic never reached terminate handling")
	}
	require.Len(t, reportFiles(t, dir, "ex-"), 1)
}

func TestCrashNow(t *testing.T) {
	dir := withReportsDir(t)
	aborted, chained := withTerminateShims(t)

	CrashNow("test crash")

	select {
	case v := <-chained:
		err, ok := v.(error)
		require.True(t, ok, "CrashNow panics with an error value")
		assert.Equal(t, "test crash", err.Error())
	default:
		t.Fatal("previous terminate handler never ran")
	}
	select {
	case <-aborted:
	default:
		t.Fatal("CrashNow did not abort")
	}
	require.Len(t, reportFiles(t, dir, "ex-"), 1)
}

func TestChainedHandlerPanicGetsItsOwnReport(t *testing.T) {
	dir := withReportsDir(t)

	require.True(t, terminateHandlerInitialize())
	t.Cleanup(terminateHandlerShutdown)

	aborted := make(chan struct{}, 1)
	oldAbort := abortFn
	abortFn = func() { aborted <- struct{}{} }
	t.Cleanup(func() { abortFn = oldAbort })

	prev := SetTerminateHandler(func(v any) { panic("handler exploded") })
	t.Cleanup(func() { SetTerminateHandler(prev) })

	Protect(func() { panic("boom") })

	select {
	case <-aborted:
	default:
		t.Fatal("terminate handling did not abort")
	}
	assert.Len(t, reportFiles(t, dir, "ex-"), 2, "the chained handler's panic spills a second report")
}
