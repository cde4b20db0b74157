package persistence

import "github.com/pbinitiative/zenpvm/pkg/entitycache"

// Mappings returns the flush mappings of every entity type. Variables are
// written after the executions and byte arrays they reference and deleted
// before them.
func Mappings() (*entitycache.Mappings, error) {
	return entitycache.NewMappings(
		entitycache.Mapping{
			Type:   TypeProcessDefinition,
			Insert: "insertProcessDefinition",
			Update: "updateProcessDefinition",
			Delete: "deleteProcessDefinition",
		},
		entitycache.Mapping{
			Type:      TypeExecution,
			Insert:    "insertExecution",
			Update:    "updateExecution",
			Delete:    "deleteExecution",
			DependsOn: []string{TypeProcessDefinition},
			ParentID: func(e entitycache.Entity) string {
				return e.(*ExecutionEntity).ParentID
			},
		},
		entitycache.Mapping{
			Type:   TypeByteArray,
			Insert: "insertByteArray",
			Update: "updateByteArray",
			Delete: "deleteByteArray",
		},
		entitycache.Mapping{
			Type:      TypeVariableInstance,
			Insert:    "insertVariableInstance",
			Update:    "updateVariableInstance",
			Delete:    "deleteVariableInstance",
			DependsOn: []string{TypeExecution, TypeByteArray},
		},
		entitycache.Mapping{
			Type:   TypeHistoricProcessInstance,
			Insert: "insertHistoricProcessInstance",
			Update: "updateHistoricProcessInstance",
			Delete: "deleteHistoricProcessInstance",
		},
		entitycache.Mapping{
			Type:      TypeHistoricActivityInstance,
			Insert:    "insertHistoricActivityInstance",
			Update:    "updateHistoricActivityInstance",
			Delete:    "deleteHistoricActivityInstance",
			DependsOn: []string{TypeHistoricProcessInstance},
		},
		entitycache.Mapping{
			Type:      TypeHistoricVariableInstance,
			Insert:    "insertHistoricVariableInstance",
			Update:    "updateHistoricVariableInstance",
			Delete:    "deleteHistoricVariableInstance",
			DependsOn: []string{TypeHistoricProcessInstance, TypeByteArray},
		},
	)
}
