package artifacts

// ArtifactKind defines types of artifacts in the provenance graph
type ArtifactKind string

const (
	KindCorpusDocument   ArtifactKind = "corpus_document"
	KindFrameworkSpec    ArtifactKind = "framework_spec"
	KindExperimentConfig ArtifactKind = "experiment_config"
	KindAnalysisResult   ArtifactKind = "analysis_result"
	KindWork             ArtifactKind = "work"
	KindAttestation      ArtifactKind = "attestation"
	KindStatistics       ArtifactKind = "statistics"
	KindKnowledgeIndex   ArtifactKind = "knowledge_index"
	KindSynthesisStep    ArtifactKind = "synthesis_step"
	KindFinalReport      ArtifactKind = "final_report"
	KindAuditEvent       ArtifactKind = "audit_event"
	KindRunManifest      ArtifactKind = "run_manifest"
)

// AllKinds lists every artifact kind the store recognizes
func AllKinds() []ArtifactKind {
	return []ArtifactKind{
		KindCorpusDocument,
		KindFrameworkSpec,
		KindExperimentConfig,
		KindAnalysisResult,
		KindWork,
		KindAttestation,
		KindStatistics,
		KindKnowledgeIndex,
		KindSynthesisStep,
		KindFinalReport,
		KindAuditEvent,
		KindRunManifest,
	}
}

// Known reports whether kind is a recognized artifact kind
func Known(kind ArtifactKind) bool {
	for _, k := range AllKinds() {
		if k == kind {
			return true
		}
	}
	return false
}
