package recovery

import "github.com/google/wire"

// ProviderSet 暴露恢复扫描器构造器。
var ProviderSet = wire.NewSet(NewScanner)
