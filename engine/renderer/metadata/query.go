package metadata

/** @brief Kinds of GPU queries the recording core can begin and end. */
type QueryType int

const (
	/** @brief Exact count of samples that passed depth/stencil testing. */
	QueryTypeSamplesPassed QueryType = iota
	/** @brief Boolean-style occlusion query, zero or any non-zero count. */
	QueryTypeAnySamplesPassed
	/** @brief Elapsed GPU time between begin and end. */
	QueryTypeTimeElapsed
	/** @brief The full pipeline statistics counter set. */
	QueryTypePipelineStatistics
)

// Precise reports whether the native query must count exactly.
// SamplesPassed promises exact counts; AnySamplesPassed trades accuracy for
// speed. The distinction reaches the native query object as a control flag.
func (t QueryType) Precise() bool {
	return t == QueryTypeSamplesPassed
}

func (t QueryType) String() string {
	switch t {
	case QueryTypeSamplesPassed:
		return "samples-passed"
	case QueryTypeAnySamplesPassed:
		return "any-samples-passed"
	case QueryTypeTimeElapsed:
		return "time-elapsed"
	case QueryTypePipelineStatistics:
		return "pipeline-statistics"
	}
	return "query"
}

/** @brief A pool of queries of one type, created by the device collaborator. */
type QueryPool struct {
	ID    uint32
	Type  QueryType
	Count uint32
	Name  string
}

/** @brief Number of raw counters a pipeline-statistics query yields. */
const PipelineStatCounters = 11

/**
 * @brief Backend-independent pipeline statistics. Every native counter set
 * is mapped into this fixed layout so callers never see the native order.
 */
type PipelineStatistics struct {
	/** @brief Primitives generated by the geometry stage before clipping.
	 * The native counter set does not expose it; always zero. */
	PrimitivesGenerated uint64
	/** @brief Vertices submitted to the input assembly. */
	VerticesSubmitted uint64
	/** @brief Primitives submitted to the input assembly. */
	PrimitivesSubmitted uint64
	VertexShaderInvocations         uint64
	TessControlShaderInvocations    uint64
	TessEvaluationShaderInvocations uint64
	GeometryShaderInvocations       uint64
	FragmentShaderInvocations       uint64
	ComputeShaderInvocations        uint64
	/** @brief Primitives emitted by the geometry stage. */
	GeometryPrimitivesGenerated uint64
	/** @brief Primitives reaching the clipping stage. */
	ClippingInputPrimitives uint64
	/** @brief Primitives surviving the clipping stage. */
	ClippingOutputPrimitives uint64
}

// StatisticsFromCounters maps the raw native counter vector into the stable
// field layout. The index assignment is part of the contract and covered by
// tests; PrimitivesGenerated stays zero on purpose.
func StatisticsFromCounters(raw []uint64) *PipelineStatistics {
	counters := make([]uint64, PipelineStatCounters)
	copy(counters, raw)
	return &PipelineStatistics{
		PrimitivesGenerated:             0,
		VerticesSubmitted:               counters[0],
		PrimitivesSubmitted:             counters[1],
		VertexShaderInvocations:         counters[2],
		GeometryShaderInvocations:       counters[3],
		GeometryPrimitivesGenerated:     counters[4],
		ClippingInputPrimitives:         counters[5],
		ClippingOutputPrimitives:        counters[6],
		FragmentShaderInvocations:       counters[7],
		TessControlShaderInvocations:    counters[8],
		TessEvaluationShaderInvocations: counters[9],
		ComputeShaderInvocations:        counters[10],
	}
}
