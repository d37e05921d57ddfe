package model

import "errors"

// パイプライン全体で共有するエラー分類。
// 呼び出し側はerrors.Isで分類を判定し、FeedLogの遷移先を決定する。
var (
	// ErrUpstreamUnavailable は上流プロバイダの通信障害・5xxを表す。
	// 一時的エラーとして扱い、リトライ対象とする。
	ErrUpstreamUnavailable = errors.New("上流プロバイダが利用できません")

	// ErrUpstreamRateLimited は上流プロバイダのレート制限を表す。
	// 一時的エラーとして扱い、リトライ対象とする。
	ErrUpstreamRateLimited = errors.New("上流プロバイダのレート制限に達しました")

	// ErrUpstreamMalformed は上流レスポンスのスキーマ不整合を表す。
	// 検出時はフィードの実行を中断し、解析時は恒久的失敗として扱う。
	ErrUpstreamMalformed = errors.New("上流レスポンスの形式が不正です")

	// ErrSummarizerUnavailable は要約サービスの一時的な障害を表す。
	// リトライ対象とする。
	ErrSummarizerUnavailable = errors.New("要約サービスが利用できません")

	// ErrSummarizerRejected は要約サービスによる入力の拒否を表す。
	// 恒久的失敗として扱い、リトライしない。
	ErrSummarizerRejected = errors.New("要約サービスが入力を拒否しました")

	// ErrClaimConflict は別ワーカーが既にFeedLogを所有していることを表す。
	// 障害ではなく期待される競合であり、呼び出し側は処理をスキップする。
	ErrClaimConflict = errors.New("FeedLogは別のワーカーにクレーム済みです")
)

// IsRetryableAnalysisError は解析時のエラーがリトライ対象（status=error行き）かを返す。
// falseの場合は恒久的失敗（status=failed行き）として扱う。
// 分類外のエラー（ストレージ障害など）はこの関数の対象外であり、呼び出し側で伝播させる。
func IsRetryableAnalysisError(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrUpstreamRateLimited) ||
		errors.Is(err, ErrSummarizerUnavailable)
}

// IsPermanentAnalysisError は解析時のエラーが恒久的失敗（status=failed行き）かを返す。
func IsPermanentAnalysisError(err error) bool {
	return errors.Is(err, ErrUpstreamMalformed) ||
		errors.Is(err, ErrSummarizerRejected)
}
