package engine

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"github.com/pbinitiative/zenpvm/pkg/pvm/definition"
)

// DeploymentCache keeps parsed process definitions by deployed definition id.
// Deployed resources never change so entries only expire to bound memory.
type DeploymentCache struct {
	registry *definition.Registry
	cache    *expirable.LRU[string, *pvm.ProcessDefinition]
}

func NewDeploymentCache(registry *definition.Registry, size int, ttl time.Duration) *DeploymentCache {
	return &DeploymentCache{
		registry: registry,
		cache:    expirable.NewLRU[string, *pvm.ProcessDefinition](size, nil, ttl),
	}
}

// Resolve returns the parsed graph of the deployed definition.
func (c *DeploymentCache) Resolve(entity *persistence.ProcessDefinitionEntity) (*pvm.ProcessDefinition, error) {
	if def, ok := c.cache.Get(entity.ID); ok {
		return def, nil
	}
	def, err := definition.Parse(entity.Resource, c.registry)
	if err != nil {
		return nil, err
	}
	c.cache.Add(entity.ID, def)
	return def, nil
}

func (c *DeploymentCache) Len() int {
	return c.cache.Len()
}

func (c *DeploymentCache) Purge() {
	c.cache.Purge()
}
