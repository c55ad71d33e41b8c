package extract

import (
	"fmt"
	"strings"

	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/storage"
)

// ExtractionFunctionName is the forced function both providers must call.
const ExtractionFunctionName = "record_order_extraction"

const goodsPromptHeader = `你是「%s」的 LINE 接單助手。

## 核心任務
分析顧客訊息，抽取訂單資訊並呼叫 %s 函式回報。**每則訊息都必須呼叫函式**。

## 抽取規則
- 只抽取顧客「明確說出」的資訊，不要猜測或補完。
- 品項數量未提及時預設為 1。
- **價格一律留空**,系統會從商品目錄比對填入,你不可以自己填價格。
- 電話、日期、時間保持顧客原始說法,不要改寫格式。
- 顧客如果只是閒聊或詢問,intent 填 inquiry 或 other,order 留空。

## 取貨方式(delivery_method)
- pickup: 自取(需要 pickup_type: store 門市自取 / meetup 面交,面交需 pickup_location)
- convenience_store: 超商店到店(需要 store_info)
- black_cat: 黑貓宅配(需要 shipping_address)

## suggested_reply
用親切的繁體中文寫一句回覆:缺什麼就問什麼,一次只問一兩個欄位,不要重複確認已提供的資訊。`

const servicePromptHeader = `你是「%s」的 LINE 預約助手。

## 核心任務
分析顧客訊息,抽取預約資訊並呼叫 %s 函式回報。**每則訊息都必須呼叫函式**。

## 抽取規則
- 這是到店服務預約,不需要詢問取貨或配送方式。
- items 填顧客想預約的服務項目,數量未提及時預設為 1。
- **價格一律留空**,系統會從服務目錄比對填入。
- delivery_date / delivery_time 填顧客想預約的日期與時段,保持原始說法。
- service_duration 只在顧客明確提到時長(分鐘)時填寫。
- 顧客如果只是閒聊或詢問,intent 填 inquiry 或 other,order 留空。

## suggested_reply
用親切的繁體中文寫一句回覆:缺什麼就問什麼,一次只問一兩個欄位。`

func buildGoodsPrompt(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, goodsPromptHeader, req.MerchantName, ExtractionFunctionName)

	if req.CatalogText != "" {
		b.WriteString("\n\n## 商品目錄\n")
		b.WriteString(req.CatalogText)
	}
	if req.PolicyText != "" {
		b.WriteString("\n\n## 本店提供的取貨方式\n")
		b.WriteString(req.PolicyText)
		b.WriteString("\n顧客提出其他方式時,不要接受,在 suggested_reply 裡說明本店提供的方式。")
	}
	writeCollectedContext(&b, req)
	if req.StageHint != "" {
		fmt.Fprintf(&b, "\n\n## 目前對話階段\n%s:%s", req.StageHint, stageHintText(req.StageHint))
	}
	return b.String()
}

func buildServicePrompt(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, servicePromptHeader, req.MerchantName, ExtractionFunctionName)

	if req.CatalogText != "" {
		b.WriteString("\n\n## 服務項目\n")
		b.WriteString(req.CatalogText)
	}
	writeCollectedContext(&b, req)
	return b.String()
}

func writeCollectedContext(b *strings.Builder, req *Request) {
	collected, err := req.Collected.MarshalCollected()
	if err != nil || string(collected) == "{}" {
		return
	}
	b.WriteString("\n\n## 已收集的訂單資訊(不要重複詢問這些欄位)\n")
	b.Write(collected)
}

func stageHintText(s order.Stage) string {
	switch s {
	case order.StageInquiry:
		return "顧客還沒決定品項,先協助介紹或確認想要什麼"
	case order.StageOrdering:
		return "品項已有,接著確認取貨方式"
	case order.StageDelivery:
		return "取貨方式已選,接著補齊取貨細節與日期時間"
	case order.StageContact:
		return "只剩聯絡資訊,詢問姓名與電話"
	case order.StageDone:
		return "資訊已齊全,確認訂單內容"
	default:
		return ""
	}
}

// HistoryText renders capped conversation history oldest-first for the
// provider message list. Storage returns newest-first.
func HistoryText(history []storage.Message) []storage.Message {
	out := make([]storage.Message, len(history))
	for i, m := range history {
		out[len(history)-1-i] = m
	}
	return out
}

// buildToolParameters builds the JSON-schema parameters of the
// extraction function. Lowercase types per JSON Schema Draft 2020-12,
// which both the OpenAI API and the genai schema converter accept.
func buildToolParameters(goods bool) map[string]any {
	orderProps := map[string]any{
		"customer_name":  map[string]any{"type": "string", "description": "顧客姓名"},
		"customer_phone": map[string]any{"type": "string", "description": "顧客電話"},
		"items": map[string]any{
			"type":        "array",
			"description": "品項清單",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":     map[string]any{"type": "string", "description": "品項名稱"},
					"quantity": map[string]any{"type": "integer", "description": "數量,預設 1"},
					"notes":    map[string]any{"type": "string", "description": "品項備註"},
				},
				"required": []string{"name"},
			},
		},
		"delivery_date":  map[string]any{"type": "string", "description": "取貨/預約日期"},
		"delivery_time":  map[string]any{"type": "string", "description": "取貨/預約時間"},
		"customer_notes": map[string]any{"type": "string", "description": "顧客備註"},
	}

	if goods {
		orderProps["delivery_method"] = map[string]any{
			"type":        "string",
			"description": "取貨方式",
			"enum":        []string{"pickup", "convenience_store", "black_cat"},
		}
		orderProps["pickup_type"] = map[string]any{
			"type":        "string",
			"description": "自取方式",
			"enum":        []string{"store", "meetup"},
		}
		orderProps["pickup_location"] = map[string]any{"type": "string", "description": "面交地點"}
		orderProps["store_info"] = map[string]any{"type": "string", "description": "超商門市資訊"}
		orderProps["shipping_address"] = map[string]any{"type": "string", "description": "宅配地址"}
		orderProps["requires_frozen"] = map[string]any{"type": "boolean", "description": "是否需要冷凍配送"}
	} else {
		orderProps["service_duration"] = map[string]any{"type": "integer", "description": "服務時長(分鐘)"}
		orderProps["service_notes"] = map[string]any{"type": "string", "description": "服務備註"}
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent": map[string]any{
				"type":        "string",
				"description": "訊息意圖",
				"enum":        []string{"order", "inquiry", "other"},
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "抽取信心 0.0-1.0",
			},
			"is_continuation": map[string]any{
				"type":        "boolean",
				"description": "是否延續先前未完成的訂單",
			},
			"order": map[string]any{
				"type":        "object",
				"description": "本則訊息抽取到的訂單欄位,只填顧客明確提供的",
				"properties":  orderProps,
			},
			"suggested_reply": map[string]any{
				"type":        "string",
				"description": "建議回覆顧客的訊息",
			},
		},
		"required": []string{"intent", "suggested_reply"},
	}
}
