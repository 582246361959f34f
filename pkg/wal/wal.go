package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// FileModePrivate rw------- (只有擁有者可讀寫)
const FileModePrivate fs.FileMode = 0600

// WAL 以 JSON Lines 格式追加寫入的 Write-Ahead Log
type WAL struct {
	file *os.File
	mu   sync.Mutex
}

// Open 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModePrivate)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return &WAL{file: file}, nil
}

// Write 寫入一筆資料並強制刷入硬碟，回傳 nil 才代表紀錄已持久化
func (w *WAL) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	// 一次 write 寫完整筆紀錄，避免與其他紀錄交錯
	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}

// ReadAll 依序讀取所有紀錄
// callback 接收單筆紀錄的原始 JSON，這樣可以避免一次將所有資料載入記憶體
//
// 檔案尾端若有未寫完的紀錄 (寫入途中崩潰)，該筆紀錄從未被確認：
// 截斷到最後一筆完整紀錄之後，之後的 Write 才不會接在殘缺的位元組後面。
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	var lastGood int64
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.truncate(lastGood)
			}
			return err
		}
		lastGood = decoder.InputOffset()
		if err := callback(raw); err != nil {
			return err
		}
	}
}

// truncate 丟棄 offset 之後的殘缺紀錄並刷入硬碟，呼叫端需持有 mu
func (w *WAL) truncate(offset int64) error {
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate torn wal tail: %w", err)
	}
	return w.file.Sync()
}
