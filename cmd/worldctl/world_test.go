package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileFlagsAreExclusive(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"reconcile", "--decision", "d1", "--participant", "p1"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decision")
}

func TestReconcileParticipantWithoutProfile(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"reconcile", "--participant", "nobody", "--env-file", ""})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluating achievements of nobody")
}

func TestReconcileDecisionUnknown(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"reconcile", "--decision", "missing", "--env-file", ""})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebuilding tally of missing")
}
