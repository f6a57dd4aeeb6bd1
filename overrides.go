package gatehouse

import "sync"

// LocalOverrideAdapter is an in-process OverrideAdapter for tests and local
// development. Overrides key globally, per user id, or per custom id value;
// the most specific match wins (user id, then custom id, then global).
type LocalOverrideAdapter struct {
	mu               sync.RWMutex
	gates            map[string]map[string]bool
	configs          map[string]map[string]map[string]interface{}
	experiments      map[string]map[string]map[string]interface{}
	experimentGroups map[string]map[string]string
	layers           map[string]map[string]map[string]interface{}
}

// globalKey marks an override that applies to every user.
const globalKey = ""

func NewLocalOverrideAdapter() *LocalOverrideAdapter {
	return &LocalOverrideAdapter{
		gates:            make(map[string]map[string]bool),
		configs:          make(map[string]map[string]map[string]interface{}),
		experiments:      make(map[string]map[string]map[string]interface{}),
		experimentGroups: make(map[string]map[string]string),
		layers:           make(map[string]map[string]map[string]interface{}),
	}
}

func (a *LocalOverrideAdapter) SetGateOverride(name string, value bool) {
	a.setGate(name, globalKey, value)
}

func (a *LocalOverrideAdapter) SetGateOverrideForID(name, id string, value bool) {
	a.setGate(name, id, value)
}

func (a *LocalOverrideAdapter) setGate(name, key string, value bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gates[name] == nil {
		a.gates[name] = make(map[string]bool)
	}
	a.gates[name][key] = value
}

func (a *LocalOverrideAdapter) SetConfigOverride(name string, value map[string]interface{}) {
	a.setJSON(a.configs, name, globalKey, value)
}

func (a *LocalOverrideAdapter) SetConfigOverrideForID(name, id string, value map[string]interface{}) {
	a.setJSON(a.configs, name, id, value)
}

func (a *LocalOverrideAdapter) SetExperimentOverride(name string, value map[string]interface{}) {
	a.setJSON(a.experiments, name, globalKey, value)
}

func (a *LocalOverrideAdapter) SetExperimentOverrideForID(name, id string, value map[string]interface{}) {
	a.setJSON(a.experiments, name, id, value)
}

// SetExperimentGroupOverride pins every user into a named group; the served value
// is resolved from the experiment's rules at evaluation time.
func (a *LocalOverrideAdapter) SetExperimentGroupOverride(name, groupName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.experimentGroups[name] == nil {
		a.experimentGroups[name] = make(map[string]string)
	}
	a.experimentGroups[name][globalKey] = groupName
}

func (a *LocalOverrideAdapter) SetLayerOverride(name string, value map[string]interface{}) {
	a.setJSON(a.layers, name, globalKey, value)
}

func (a *LocalOverrideAdapter) SetLayerOverrideForID(name, id string, value map[string]interface{}) {
	a.setJSON(a.layers, name, id, value)
}

func (a *LocalOverrideAdapter) setJSON(m map[string]map[string]map[string]interface{}, name, key string, value map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m[name] == nil {
		m[name] = make(map[string]map[string]interface{})
	}
	m[name][key] = value
}

// RemoveGateOverride drops every keyed override for the gate.
func (a *LocalOverrideAdapter) RemoveGateOverride(name string) {
	a.mu.Lock()
	delete(a.gates, name)
	a.mu.Unlock()
}

func (a *LocalOverrideAdapter) RemoveConfigOverride(name string) {
	a.mu.Lock()
	delete(a.configs, name)
	a.mu.Unlock()
}

func (a *LocalOverrideAdapter) RemoveExperimentOverride(name string) {
	a.mu.Lock()
	delete(a.experiments, name)
	delete(a.experimentGroups, name)
	a.mu.Unlock()
}

func (a *LocalOverrideAdapter) RemoveLayerOverride(name string) {
	a.mu.Lock()
	delete(a.layers, name)
	a.mu.Unlock()
}

// lookupKeys returns candidate keys in precedence order for a user.
func lookupKeys(u User) []string {
	keys := make([]string, 0, len(u.CustomIDs)+2)
	if u.UserID != "" {
		keys = append(keys, u.UserID)
	}
	for _, id := range u.CustomIDs {
		keys = append(keys, id)
	}
	return append(keys, globalKey)
}

func (a *LocalOverrideAdapter) GetGateOverride(u User, name string) (bool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	byKey := a.gates[name]
	if byKey == nil {
		return false, false
	}
	for _, key := range lookupKeys(u) {
		if v, ok := byKey[key]; ok {
			return v, true
		}
	}
	return false, false
}

func (a *LocalOverrideAdapter) GetConfigOverride(u User, name string) (map[string]interface{}, bool) {
	return a.jsonOverride(a.configs, u, name)
}

func (a *LocalOverrideAdapter) GetExperimentOverride(u User, name string) (map[string]interface{}, *string, bool) {
	a.mu.RLock()
	groups := a.experimentGroups[name]
	a.mu.RUnlock()
	if groups != nil {
		for _, key := range lookupKeys(u) {
			if g, ok := groups[key]; ok {
				group := g
				return nil, &group, true
			}
		}
	}
	if v, ok := a.jsonOverride(a.experiments, u, name); ok {
		return v, nil, true
	}
	return nil, nil, false
}

func (a *LocalOverrideAdapter) GetLayerOverride(u User, name string) (map[string]interface{}, bool) {
	return a.jsonOverride(a.layers, u, name)
}

func (a *LocalOverrideAdapter) jsonOverride(m map[string]map[string]map[string]interface{}, u User, name string) (map[string]interface{}, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	byKey := m[name]
	if byKey == nil {
		return nil, false
	}
	for _, key := range lookupKeys(u) {
		if v, ok := byKey[key]; ok {
			return v, true
		}
	}
	return nil, false
}
