package crdt

import "strings"

// Canonical key encodings per spec §3: node property keys are
// "nodeId\0propKey"; edge identity keys are "from\0to\0label"; edge property
// keys are "E\0from\0to\0label\0propKey". Centralizing this here means
// every other package (reducer, query layer, index builder) agrees on the
// exact byte layout.

const keySep = "\x00"

// EncodeEdgeKey builds the canonical ORSet entry key for an edge.
func EncodeEdgeKey(from, to, label string) string {
	return from + keySep + to + keySep + label
}

// DecodeEdgeKey splits an edge key back into (from, to, label). ok is false
// if the key is malformed.
func DecodeEdgeKey(key string) (from, to, label string, ok bool) {
	parts := strings.SplitN(key, keySep, 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// EncodeNodePropKey builds the canonical property-key for a node property.
func EncodeNodePropKey(nodeID, propKey string) string {
	return nodeID + keySep + propKey
}

// EncodeEdgePropKey builds the canonical property-key for an edge property.
func EncodeEdgePropKey(from, to, label, propKey string) string {
	return "E" + keySep + from + keySep + to + keySep + label + keySep + propKey
}

// IsEdgePropKey reports whether key was produced by EncodeEdgePropKey, and if
// so returns its edge key and the trailing property name.
func IsEdgePropKey(key string) (edgeKey, propKey string, ok bool) {
	if !strings.HasPrefix(key, "E"+keySep) {
		return "", "", false
	}
	rest := key[len("E"+keySep):]
	parts := strings.SplitN(rest, keySep, 4)
	if len(parts) != 4 {
		return "", "", false
	}
	return EncodeEdgeKey(parts[0], parts[1], parts[2]), parts[3], true
}
