package osi

// ModelStats summarizes a document for persistence and listings.
type ModelStats struct {
	TableCount        int `json:"tableCount"`
	FieldCount        int `json:"fieldCount"`
	RelationshipCount int `json:"relationshipCount"`
	MetricCount       int `json:"metricCount"`
}

// ComputeModelStats counts datasets, fields, relationships, and metrics in
// semantic_model[0]. Malformed or empty documents yield all-zero stats.
func ComputeModelStats(doc Document) ModelStats {
	var stats ModelStats
	model, ok := Model(doc)
	if !ok {
		return stats
	}
	datasets := maps(model["datasets"])
	stats.TableCount = len(datasets)
	for _, ds := range datasets {
		stats.FieldCount += len(maps(ds["fields"]))
	}
	stats.RelationshipCount = len(maps(model["relationships"]))
	stats.MetricCount = len(maps(model["metrics"]))
	return stats
}
