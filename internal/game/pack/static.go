package pack

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"

	"github.com/palemoky/bad-cards/internal/game/card"
)

// TypeDef 卡包分类（types.json）
type TypeDef struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Packs    []string `json:"packs"`
	Quantity int      `json:"quantity"`
}

// Quantity 卡包数量统计
type Quantity struct {
	Prompts   int `json:"black"`
	Responses int `json:"white"`
	Total     int `json:"total"`
}

// packFile 卡包文件格式
type packFile struct {
	Pack struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"pack"`
	Quantity  Quantity          `json:"quantity"`
	Prompts   []card.PromptCard `json:"black"`
	Responses []string          `json:"white"`
}

// Catalog 随服务端打包的静态卡包
type Catalog struct {
	Types []TypeDef
	packs map[string]*card.Pack
}

// LoadCatalog 读取 types.json 及 <type>/packs/<id>.json
func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	raw, err := fs.ReadFile(fsys, "types.json")
	if err != nil {
		return nil, fmt.Errorf("读取卡包分类失败: %w", err)
	}

	var types struct {
		Types []TypeDef `json:"types"`
	}
	if err := json.Unmarshal(raw, &types); err != nil {
		return nil, fmt.Errorf("解析卡包分类失败: %w", err)
	}

	c := &Catalog{Types: types.Types, packs: make(map[string]*card.Pack)}
	for _, t := range types.Types {
		for _, id := range t.Packs {
			file := path.Join(t.ID, "packs", id+".json")
			data, err := fs.ReadFile(fsys, file)
			if err != nil {
				return nil, fmt.Errorf("读取卡包 %s 失败: %w", file, err)
			}
			var pf packFile
			if err := json.Unmarshal(data, &pf); err != nil {
				return nil, fmt.Errorf("解析卡包 %s 失败: %w", file, err)
			}
			c.packs[id] = &card.Pack{
				ID:        id,
				Name:      pf.Pack.Name,
				Prompts:   pf.Prompts,
				Responses: pf.Responses,
			}
		}
	}
	return c, nil
}

// Get 查找静态卡包
func (c *Catalog) Get(id string) (*card.Pack, bool) {
	if c == nil {
		return nil, false
	}
	p, ok := c.packs[id]
	return p, ok
}
