package storage

import logx "groupbot/pkg/logx"

var nopLog = logx.Nop()
