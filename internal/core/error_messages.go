package core

// error_messages.go maps failures to short operator-facing codes and a
// suggested action. The envelope message always keeps the original text;
// the code and action are hints layered on top.
//
// Codes by category:
//
//	DB001-DB099    database constraint, type and connection errors
//	VAL001-VAL099  header and cell validation errors
//	FILE001-FILE099 file and request body errors
//	UPL001-UPL099  import admission and cancellation
//	TBL001-TBL099  table lookup
//	ARC001-ARC099  archives and snapshots
//	RATE001        request throttling
//	ERR000         no pattern matched; check the logs
//
// PostgreSQL errors are matched on SQLSTATE first. Everything else is
// matched case-insensitively by substring; the first match wins.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var sqlStateMessages = map[string]UserMessage{
	"23505": {Message: "主键或唯一值重复", Action: "检查文件中重复的键值", Code: "DB001"},
	"23503": {Message: "引用的记录不存在", Action: "先导入被引用的表", Code: "DB002"},
	"23502": {Message: "必填字段为空", Action: "为非空列提供值", Code: "DB003"},
	"23514": {Message: "数据不满足检查约束", Action: "核对该列允许的取值范围", Code: "DB004"},
	"22P02": {Message: "数据类型不匹配", Action: "核对该列的数据格式", Code: "DB005"},
	"22003": {Message: "数值超出列的范围", Action: "缩小数值或调整列类型", Code: "DB005"},
	"22001": {Message: "文本超出列的长度限制", Action: "缩短文本或调整列类型", Code: "DB005"},
	"40P01": {Message: "数据库死锁", Action: "请稍后重试", Code: "DB006"},
	"57014": {Message: "查询超时被取消", Action: "请缩小文件或稍后重试", Code: "DB007"},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are lowercase substrings. Specific patterns precede general ones.
var errorPatterns = []errorPattern{
	// Database
	{"duplicate key", sqlStateMessages["23505"]},
	{"violates foreign key", sqlStateMessages["23503"]},
	{"violates not-null", sqlStateMessages["23502"]},
	{"connection refused", UserMessage{Message: "无法连接数据库", Action: "请检查数据库服务后重试", Code: "DB008"}},
	{"connection reset", UserMessage{Message: "数据库连接中断", Action: "请重试", Code: "DB008"}},
	{"failed to connect", UserMessage{Message: "无法连接数据库", Action: "请检查数据库服务后重试", Code: "DB008"}},
	{"deadlock", sqlStateMessages["40P01"]},

	// Validation
	{"存在无效列", UserMessage{Message: "表头包含不存在的列", Action: "下载模板核对列名", Code: "VAL001"}},
	{"值无效", UserMessage{Message: "单元格格式无效", Action: "按错误中的行号和列名修正数据", Code: "VAL002"}},
	{"json 格式无效", UserMessage{Message: "JSON 单元格无法解析", Action: "确认单元格是合法的 JSON", Code: "VAL003"}},
	{"需要 json 数组", UserMessage{Message: "数组列需要 JSON 数组", Action: "使用 [\"a\",\"b\"] 形式填写", Code: "VAL003"}},
	{"暂不支持导入非空值", UserMessage{Message: "该列类型不支持导入", Action: "将该列留空", Code: "VAL004"}},
	{"invalid identifier", UserMessage{Message: "名称不是合法的标识符", Action: "仅使用字母、数字和下划线", Code: "VAL005"}},

	// Files
	{"csv 文件为空", UserMessage{Message: "上传的文件为空", Action: "上传包含表头和数据行的 CSV", Code: "FILE001"}},
	{"csv 表头为空", UserMessage{Message: "CSV 表头为空", Action: "在第一行填写列名", Code: "FILE002"}},
	{"csv 没有数据行", UserMessage{Message: "CSV 只有表头", Action: "至少提供一行数据", Code: "FILE003"}},
	{"引号未闭合", UserMessage{Message: "CSV 引号不匹配", Action: "检查包含逗号或换行的单元格", Code: "FILE004"}},
	{"request body too large", UserMessage{Message: "文件超过大小限制", Action: "拆分文件后分批导入", Code: "FILE005"}},
	{"no file provided", UserMessage{Message: "未选择文件", Action: "在 file 字段上传文件", Code: "FILE006"}},

	// Import admission
	{"too many concurrent imports", UserMessage{Message: "导入任务繁忙", Action: "请稍后重试", Code: "UPL001"}},
	{"context canceled", UserMessage{Message: "请求已取消", Action: "请重试", Code: "UPL002"}},
	{"context deadline exceeded", UserMessage{Message: "请求超时", Action: "请缩小文件或稍后重试", Code: "UPL003"}},

	// Tables
	{"table not found", UserMessage{Message: "数据表不存在", Action: "确认表名拼写", Code: "TBL001"}},

	// Archives and snapshots
	{"压缩包无法读取", UserMessage{Message: "压缩包损坏或格式不对", Action: "重新打包为 zip 后上传", Code: "ARC001"}},
	{"压缩包中的文件过大", UserMessage{Message: "压缩包内文件过大", Action: "拆分数据后重新打包", Code: "ARC002"}},
	{"snapshots disabled", UserMessage{Message: "未配置快照存储", Action: "设置 SNAPSHOT_BACKEND", Code: "ARC003"}},
	{"snapshot not found", UserMessage{Message: "快照不存在", Action: "先列出快照确认 key", Code: "ARC004"}},

	// Rate limiting
	{"rate limit", UserMessage{Message: "请求过于频繁", Action: "请稍后重试", Code: "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "发生未知错误",
	Action:  "请重试或查看服务日志",
	Code:    "ERR000",
}

// MapError converts err to a user message. A nil error yields the zero value.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStateMessages[pgErr.Code]; ok {
			return msg
		}
	}

	// Service errors carry a localized message over an English cause, so
	// every error in the chain is tried.
	for e := err; e != nil; e = errors.Unwrap(e) {
		errStr := strings.ToLower(e.Error())
		for _, ep := range errorPatterns {
			if strings.Contains(errStr, ep.pattern) {
				return ep.msg
			}
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a known pattern rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
