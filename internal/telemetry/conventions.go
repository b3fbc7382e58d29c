package telemetry

// Attribute names used on extraction spans and metrics

const (
	AttrRequestID = "ocr.request.id"

	// Provider attributes
	AttrProviderName         = "extraction.provider"
	AttrExtractionSuccess    = "extraction.result.success"
	AttrExtractionError      = "extraction.result.error"
	AttrExtractionTextLength = "extraction.result.text_length"
	AttrErrorCategory        = "error.category"

	// Document attributes
	AttrDocumentMimeType = "document.mime_type"
	AttrDocumentSize     = "document.size"
	AttrDocumentPages    = "document.pages"

	// Pipeline stage attributes
	AttrStageName     = "pipeline.stage"
	AttrStitchBatches = "stitch.batches"

	// OCR job attributes
	AttrJobID     = "ocr.job.id"
	AttrJobStatus = "ocr.job.status"
	AttrJobPolls  = "ocr.job.polls"

	// LLM attributes
	AttrLLMModel        = "llm.model"
	AttrLLMInputTokens  = "llm.usage.input_tokens"
	AttrLLMOutputTokens = "llm.usage.output_tokens"
	AttrLLMFinishReason = "llm.finish_reason"
)

// Span names
const (
	SpanNameExtraction = "extraction.run"
	SpanNameStage      = "extraction.stage"
)
