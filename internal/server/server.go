package server

import "github.com/google/wire"

// ProviderSet 暴露服务器构造器。
var ProviderSet = wire.NewSet(NewHTTPServer, NewGRPCServer)
