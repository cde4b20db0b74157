package behavior_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"github.com/pbinitiative/zenpvm/pkg/pvm/behavior"
	"github.com/pbinitiative/zenpvm/pkg/pvm/definition"
	"github.com/pbinitiative/zenpvm/pkg/pvm/runtime"
	"github.com/pbinitiative/zenpvm/pkg/script/js"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n int
}

func (c *counter) NextID() string {
	c.n++
	return fmt.Sprintf("x%d", c.n)
}

func start(t *testing.T, opts behavior.Options, doc string, vars map[string]any) (*runtime.Tree, error) {
	t.Helper()
	registry, err := behavior.NewRegistry(opts)
	require.NoError(t, err)
	def, err := definition.Parse([]byte(doc), registry)
	require.NoError(t, err)
	return runtime.NewInterpreter(&counter{}).StartProcessInstance(def, vars, nil)
}

func leafActivities(tree *runtime.Tree) []string {
	var res []string
	for _, e := range tree.Leaves() {
		res = append(res, e.ActivityID())
	}
	return res
}

const gatewayDocument = `
id: gateway
activities:
  - id: decide
    type: exclusiveGateway
    config:
      default: other
    outgoing:
      - to: small
        condition: amount < 100
      - to: large
        condition: amount >= 1000
      - id: other
        to: manual
  - id: small
    type: wait
  - id: large
    type: wait
  - id: manual
    type: wait
`

func TestExclusiveGatewayTakesFirstMatchingCondition(t *testing.T) {
	tree, err := start(t, behavior.Options{}, gatewayDocument, map[string]any{"amount": 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"small"}, leafActivities(tree))

	tree, err = start(t, behavior.Options{}, gatewayDocument, map[string]any{"amount": 5000})
	require.NoError(t, err)
	assert.Equal(t, []string{"large"}, leafActivities(tree))
}

func TestExclusiveGatewayFallsBackToDefault(t *testing.T) {
	tree, err := start(t, behavior.Options{}, gatewayDocument, map[string]any{"amount": 500})

	require.NoError(t, err)
	assert.Equal(t, []string{"manual"}, leafActivities(tree))
}

func TestExclusiveGatewayWithoutEnabledTransition(t *testing.T) {
	doc := `
id: stuck
activities:
  - id: decide
    type: exclusiveGateway
    outgoing:
      - to: next
        condition: "false"
  - id: next
    type: wait
`
	_, err := start(t, behavior.Options{}, doc, nil)

	assert.ErrorIs(t, err, behavior.ErrNoEnabledTransition)
}

func TestScriptTaskStoresResult(t *testing.T) {
	scripts, err := js.NewJsRuntime(context.Background(), 2, 1)
	require.NoError(t, err)
	doc := `
id: scripted
activities:
  - id: calc
    type: script
    config:
      script: amount * 2
      resultVariable: doubled
    outgoing:
      - to: done
  - id: done
    type: wait
`
	tree, err := start(t, behavior.Options{Scripts: scripts}, doc, map[string]any{"amount": 21})

	require.NoError(t, err)
	assert.EqualValues(t, 42, tree.Root().LocalVariables()["doubled"])
}

func TestScriptTaskWithoutRuntime(t *testing.T) {
	doc := `
id: scripted
activities:
  - id: calc
    type: script
    config:
      script: "1"
`
	_, err := start(t, behavior.Options{}, doc, nil)

	assert.ErrorContains(t, err, "has no script runtime")
}

func TestServiceTaskCallsNamedHandler(t *testing.T) {
	var called []string
	opts := behavior.Options{Handlers: map[string]behavior.TaskHandler{
		"reserve": behavior.TaskHandlerFunc(func(execution pvm.ActivityExecution) error {
			called = append(called, execution.Activity().ID())
			return execution.SetVariable("reserved", true)
		}),
		"charge": behavior.TaskHandlerFunc(func(pvm.ActivityExecution) error {
			return pvm.NewBusinessFault("DECLINED", "card declined", nil)
		}),
	}}
	doc := `
id: services
activities:
  - id: stock
    type: service
    config:
      handler: reserve
    outgoing:
      - to: pay
  - id: pay
    type: service
    config:
      handler: charge
    errorHandlers:
      - errorCode: DECLINED
        to: declined
    outgoing:
      - to: shipped
  - id: declined
    type: wait
  - id: shipped
    type: wait
`
	tree, err := start(t, opts, doc, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"stock"}, called)
	assert.Equal(t, []string{"declined"}, leafActivities(tree))
	assert.Equal(t, true, tree.Root().LocalVariables()["reserved"])
	assert.Equal(t, "DECLINED", tree.Root().LocalVariables()["errorCode"])
}

func TestRegistryRejectsIncompleteConfig(t *testing.T) {
	registry, err := behavior.NewRegistry(behavior.Options{})
	require.NoError(t, err)

	for typeName, config := range map[string]map[string]any{
		behavior.TypeThrowError: {},
		behavior.TypeScript:     {"resultVariable": "x"},
		behavior.TypeService:    {"handler": "missing"},
		behavior.TypeWait:       {"timeout": "1m"},
	} {
		factory, ok := registry.Lookup(typeName)
		require.True(t, ok, typeName)
		_, err := factory(config)
		assert.Error(t, err, typeName)
	}
	assert.Len(t, registry.Types(), 8)
}

func TestThrowErrorRaisesFault(t *testing.T) {
	err := behavior.ThrowError{ErrorCode: "E1", Message: "nope"}.Execute(nil)

	var fault *pvm.BusinessFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "E1", fault.Code)
}
