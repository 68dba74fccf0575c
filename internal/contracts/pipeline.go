package contracts

// Pipeline Stage 정의 (SSOT)
// 모든 로그, 이벤트, DB row에서 이 상수를 사용해야 함
//
// 파이프라인 흐름:
//   N0 → N1 → N2 → N3 → N4 → N5 → N6 → N7
//   Facts  States  Context  Prompt  Generate  Inject  Gate  Rank

// Stage represents a pipeline stage
type Stage string

const (
	// StageGroundTruth N0: 숫자 팩트 계산
	// 위치: internal/groundtruth/
	StageGroundTruth Stage = "N0_GROUND_TRUTH"

	// StageSemantic N1: 밴드 테이블 기반 상태 라벨링
	// 위치: internal/semantic/
	StageSemantic Stage = "N1_SEMANTIC"

	// StageContext N2: 컨텍스트 병합 + resolvable placeholder 계산
	// 위치: internal/assembly/
	StageContext Stage = "N2_CONTEXT"

	// StagePrompt N3: 템플릿 렌더링
	// 위치: internal/prompt/
	StagePrompt Stage = "N3_PROMPT"

	// StageGenerate N4: LLM 호출 (유일한 free-form 텍스트 생성)
	// 위치: internal/llm/
	StageGenerate Stage = "N4_GENERATE"

	// StageInject N5: placeholder 치환
	// 위치: internal/inject/
	StageInject Stage = "N5_INJECT"

	// StageGate N6: 이진 품질 게이트
	// 위치: internal/gate/
	StageGate Stage = "N6_GATE"

	// StageRank N7: 연속 품질 점수 (gate 통과 시에만)
	// 위치: internal/rank/
	StageRank Stage = "N7_RANK"

	// StageOutcome is emitted once per request with the final outcome
	StageOutcome Stage = "OUTCOME"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

// ShortName returns abbreviated stage name (e.g., "N0", "N6")
func (s Stage) ShortName() string {
	if len(s) >= 2 && s[0] == 'N' {
		return string(s[:2])
	}
	return string(s)
}

// AllStages returns all pipeline stages in order
func AllStages() []Stage {
	return []Stage{
		StageGroundTruth,
		StageSemantic,
		StageContext,
		StagePrompt,
		StageGenerate,
		StageInject,
		StageGate,
		StageRank,
	}
}

// IsValidStage checks if a stage string is valid
func IsValidStage(s string) bool {
	if s == string(StageOutcome) {
		return true
	}
	for _, stage := range AllStages() {
		if string(stage) == s {
			return true
		}
	}
	return false
}

// Outcome is the terminal classification of one report request
type Outcome string

const (
	OutcomeReleased         Outcome = "released"
	OutcomeGateFailed       Outcome = "gate_failed"
	OutcomeInsufficientData Outcome = "insufficient_data"
	OutcomeAborted          Outcome = "aborted"
	OutcomeFailed           Outcome = "failed"
)
