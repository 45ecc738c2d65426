package engine

import (
	"context"

	"lifevault-emergency/internal/models"
)

// CategoryResolver 基于协议 access_categories 的默认资源解析器
// 级别是累积的：高级别授予所有低级别的资源分类
// 接入真实保管库时用外部实现替换
type CategoryResolver struct {
	protocols ProtocolStore
}

// NewCategoryResolver 创建默认资源解析器
func NewCategoryResolver(protocols ProtocolStore) *CategoryResolver {
	return &CategoryResolver{protocols: protocols}
}

// Resolve 解析访问级别对应的资源分类集合
func (r *CategoryResolver) Resolve(ctx context.Context, ownerID, accessLevel string) ([]string, error) {
	protocol, err := r.protocols.GetProtocol(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if protocol == nil {
		return []string{}, nil
	}

	categories, err := protocol.DecodeAccessCategories()
	if err != nil {
		return nil, err
	}

	rank := models.LevelRank(accessLevel)
	resolved := []string{}
	seen := make(map[string]bool)
	for _, level := range []string{models.LevelBasic, models.LevelStandard, models.LevelFull, models.LevelComplete} {
		if models.LevelRank(level) > rank {
			break
		}
		for _, category := range categories[level] {
			if !seen[category] {
				resolved = append(resolved, category)
				seen[category] = true
			}
		}
	}

	return resolved, nil
}
