package meter

import "github.com/ineyio/imagegate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ imagegate.Meter = (*NoopMeter)(nil)

func (*NoopMeter) OnGenerate(imagegate.GenerateEvent) {}
func (*NoopMeter) OnResult(imagegate.ResultEvent)     {}
