package serv

import (
	"context"
	"fmt"

	"github.com/querygate/querygate/discover"
	"github.com/querygate/querygate/request"
)

// confRegistry resolves instance ids against the configured connection
// targets. Connection strings never leave the server process.
type confRegistry struct {
	instances map[string]Instance
}

func newConfRegistry(instances []Instance) (*confRegistry, error) {
	m := make(map[string]Instance, len(instances))
	for _, inst := range instances {
		if inst.ID == "" {
			return nil, fmt.Errorf("instance %q has no id", inst.Name)
		}
		if _, dup := m[inst.ID]; dup {
			return nil, fmt.Errorf("duplicate instance id %q", inst.ID)
		}
		if _, err := databaseKind(inst.Kind); err != nil {
			return nil, fmt.Errorf("instance %s: %w", inst.ID, err)
		}
		m[inst.ID] = inst
	}
	return &confRegistry{instances: m}, nil
}

func (r *confRegistry) Resolve(ctx context.Context, instanceID string) (request.Instance, error) {
	inst, ok := r.instances[instanceID]
	if !ok {
		return request.Instance{}, fmt.Errorf("unknown instance %q: %w", instanceID, request.ErrNotFound)
	}
	kind, err := databaseKind(inst.Kind)
	if err != nil {
		return request.Instance{}, err
	}
	return request.Instance{
		ID:         inst.ID,
		Name:       inst.Name,
		Kind:       kind,
		ConnString: inst.ConnString,
		Schema:     inst.Schema,
	}, nil
}

// list returns the instances without their connection strings, for the
// public catalog endpoint.
func (r *confRegistry) list() []instanceInfo {
	out := make([]instanceInfo, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, instanceInfo{ID: inst.ID, Name: inst.Name, Kind: inst.Kind})
	}
	return out
}

type instanceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func databaseKind(kind string) (request.DatabaseKind, error) {
	switch kind {
	case "postgres", "postgresql":
		return request.KindRelational, nil
	case "mongodb", "mongo":
		return request.KindDocumentStore, nil
	default:
		return "", fmt.Errorf("unsupported instance kind %q", kind)
	}
}

func discoverKind(kind request.DatabaseKind) discover.Kind {
	if kind == request.KindDocumentStore {
		return discover.DocumentStore
	}
	return discover.Relational
}
